package helper

import (
	"fmt"

	"github.com/godbus/dbus/v5"
)

const (
	polkitBusName   = "org.freedesktop.PolicyKit1"
	polkitPath      = dbus.ObjectPath("/org/freedesktop/PolicyKit1/Authority")
	polkitCheckAuth = "org.freedesktop.PolicyKit1.Authority.CheckAuthorization"

	polkitAllowUserInteraction uint32 = 1
)

// SenderAuthorizer decides whether a bus peer may change cpu settings
type SenderAuthorizer interface {
	IsSenderAuthorized(sender string) (bool, error)
}

type polkitSubject struct {
	Kind    string
	Details map[string]dbus.Variant
}

type polkitResult struct {
	IsAuthorized bool
	IsChallenge  bool
	Details      map[string]string
}

// PolkitAuthority asks polkit whether the calling bus name holds an action
type PolkitAuthority struct {
	caller caller
	action string
}

func NewPolkitAuthority(conn *dbus.Conn, action string) *PolkitAuthority {
	return &PolkitAuthority{
		caller: conn.Object(polkitBusName, polkitPath),
		action: action,
	}
}

func (p *PolkitAuthority) IsSenderAuthorized(sender string) (bool, error) {
	subject := polkitSubject{
		Kind:    "system-bus-name",
		Details: map[string]dbus.Variant{"name": dbus.MakeVariant(sender)},
	}
	var result polkitResult
	err := p.caller.Call(polkitCheckAuth, 0,
		subject, p.action, map[string]string{}, polkitAllowUserInteraction, "").Store(&result)
	if err != nil {
		return false, fmt.Errorf("polkit check for %s failed: %w", sender, err)
	}
	log.V(1).Info("polkit decision", "sender", sender, "action", p.action,
		"authorized", result.IsAuthorized, "challenge", result.IsChallenge)
	return result.IsAuthorized, nil
}
