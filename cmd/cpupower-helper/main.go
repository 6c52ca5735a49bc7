package main

import (
	"flag"
	"fmt"
	"os"
	"path/filepath"

	"github.com/bombsimon/logrusr/v4"
	"github.com/godbus/dbus/v5"
	"github.com/kardianos/service"
	"github.com/sirupsen/logrus"

	"github.com/rnd2/cpupower-gui/pkg/helper"
	"github.com/rnd2/cpupower-gui/pkg/power"
)

// program runs the bus helper under the service manager
type program struct {
	sysRoot string
	conn    *dbus.Conn
}

func (p *program) Start(s service.Service) error {
	conn, err := dbus.ConnectSystemBus()
	if err != nil {
		return fmt.Errorf("failed to connect to the system bus: %w", err)
	}
	accessor := power.NewSysfsAccessor(filepath.Join(p.sysRoot, "devices/system/cpu"))
	server := helper.NewServer(accessor, helper.NewPolkitAuthority(conn, helper.ApplyRuntimeAction))
	if err := server.Export(conn); err != nil {
		conn.Close()
		return err
	}
	p.conn = conn
	logrus.WithField("cpus", accessor.AvailableCpus().String()).Info("cpupower helper running")
	return nil
}

func (p *program) Stop(s service.Service) error {
	logrus.Info("cpupower helper stopping")
	if p.conn != nil {
		return p.conn.Close()
	}
	return nil
}

func main() {
	control := flag.String("service", "", fmt.Sprintf("control the system service, one of %v", service.ControlAction))
	sysRoot := flag.String("sysroot", "/sys", "sysfs mount point")
	verbosity := flag.Int("v", 0, "log verbosity")
	flag.Parse()

	logger := logrus.New()
	logger.SetLevel(logLevel(*verbosity))
	logrus.SetLevel(logger.GetLevel())
	sink := logrusr.New(logger)
	power.SetLogger(sink.WithName("power"))
	helper.SetLogger(sink.WithName("helper"))

	svc, err := service.New(&program{sysRoot: *sysRoot}, &service.Config{
		Name:        "cpupower-gui-helper",
		DisplayName: "cpupower-gui helper",
		Description: "Applies cpu frequency, governor and hotplug settings on behalf of cpupower front ends",
		Arguments:   []string{"-sysroot", *sysRoot, "-v", fmt.Sprint(*verbosity)},
	})
	if err != nil {
		logrus.WithError(err).Fatal("failed to create service")
	}

	if *control != "" {
		if err := service.Control(svc, *control); err != nil {
			logrus.WithError(err).Fatalf("service %s failed", *control)
		}
		fmt.Fprintf(os.Stdout, "service %s done\n", *control)
		return
	}
	if err := svc.Run(); err != nil {
		logrus.WithError(err).Fatal("helper exited")
	}
}

func logLevel(verbosity int) logrus.Level {
	switch {
	case verbosity >= 2:
		return logrus.TraceLevel
	case verbosity == 1:
		return logrus.DebugLevel
	}
	return logrus.InfoLevel
}
