// Package hypervisor realizes VM lifecycle intent through the libvirt
// daemon: defining domains from XML, starting, destroying and undefining
// them, and projecting libvirt's raw domain states onto the catalog's VM
// lifecycle states.
package hypervisor

import (
	"github.com/cuemby/virtus/pkg/types"
	"github.com/cuemby/virtus/pkg/verr"
	"github.com/cuemby/virtus/pkg/vlog"
	"github.com/digitalocean/go-libvirt"
	"github.com/digitalocean/go-libvirt/socket/dialers"
	"github.com/rs/zerolog"
)

// DefaultURI is the system hypervisor endpoint.
const DefaultURI = string(libvirt.QEMUSystem)

// API is the slice of the libvirt client the effector uses. *libvirt.Libvirt
// satisfies it; tests substitute a fake.
type API interface {
	DomainDefineXML(XML string) (libvirt.Domain, error)
	DomainCreate(Dom libvirt.Domain) error
	DomainResume(Dom libvirt.Domain) error
	DomainDestroy(Dom libvirt.Domain) error
	DomainUndefine(Dom libvirt.Domain) error
	DomainGetState(Dom libvirt.Domain, Flags uint32) (int32, int32, error)
	DomainLookupByUUID(UUID libvirt.UUID) (libvirt.Domain, error)
	ConnectListAllDomains(NeedResults int32, Flags libvirt.ConnectListAllDomainsFlags) ([]libvirt.Domain, uint32, error)
}

// Client wraps a libvirt connection behind the operations the control
// plane needs. The underlying libvirt client is thread-safe per its own
// contract.
type Client struct {
	api    API
	logger zerolog.Logger
}

// Connect dials the local libvirt daemon and connects to uri.
func Connect(uri string) (*Client, error) {
	l := libvirt.NewWithDialer(dialers.NewLocal())
	if err := l.ConnectToURI(libvirt.ConnectURI(uri)); err != nil {
		return nil, verr.Wrap(verr.KindUnavailable, "connect hypervisor", err)
	}
	return NewWithAPI(l), nil
}

// NewWithAPI wraps an established libvirt API.
func NewWithAPI(api API) *Client {
	return &Client{api: api, logger: vlog.WithComponent("hypervisor")}
}

// Project maps a raw libvirt domain state code onto the VM lifecycle.
func Project(raw int32) types.LifecycleState {
	switch libvirt.DomainState(raw) {
	case libvirt.DomainRunning:
		return types.StateRunning
	case libvirt.DomainPaused, libvirt.DomainBlocked, libvirt.DomainPmsuspended:
		return types.StatePaused
	case libvirt.DomainShutdown:
		return types.StateShuttingDown
	case libvirt.DomainShutoff, libvirt.DomainCrashed:
		return types.StateStopped
	default:
		return types.StateUndefined
	}
}

// Define registers a domain from its XML description without starting it.
func (c *Client) Define(xml []byte) error {
	if _, err := c.api.DomainDefineXML(string(xml)); err != nil {
		return verr.Externalf(err, "define domain")
	}
	return nil
}

// lookup resolves a catalog id to a domain handle. A failed lookup means
// the domain is undefined.
func (c *Client) lookup(id types.ID) (libvirt.Domain, bool) {
	dom, err := c.api.DomainLookupByUUID(libvirt.UUID(id))
	if err != nil {
		return libvirt.Domain{}, false
	}
	return dom, true
}

// State reports the projected lifecycle state of the domain with the given
// id. No handle projects to Undefined.
func (c *Client) State(id types.ID) (types.LifecycleState, error) {
	dom, ok := c.lookup(id)
	if !ok {
		return types.StateUndefined, nil
	}
	raw, _, err := c.api.DomainGetState(dom, 0)
	if err != nil {
		return types.StateUndefined, verr.Externalf(err, "get domain state")
	}
	return Project(raw), nil
}

// Start drives the domain toward Running: create from Stopped, resume from
// Paused, no-op when already Running. Starting an undefined or
// shutting-down domain is a precondition failure.
func (c *Client) Start(id types.ID) error {
	dom, ok := c.lookup(id)
	if !ok {
		return verr.Preconditionf("vm %s is not defined", id)
	}

	raw, _, err := c.api.DomainGetState(dom, 0)
	if err != nil {
		return verr.Externalf(err, "get domain state")
	}

	switch Project(raw) {
	case types.StateRunning:
		return nil
	case types.StateStopped:
		if err := c.api.DomainCreate(dom); err != nil {
			return verr.Externalf(err, "start domain")
		}
	case types.StatePaused:
		if err := c.api.DomainResume(dom); err != nil {
			return verr.Externalf(err, "resume domain")
		}
	case types.StateShuttingDown:
		return verr.Preconditionf("vm %s is shutting down", id)
	default:
		return verr.Preconditionf("vm %s is not defined", id)
	}

	c.logger.Debug().Str("resource", "vm").Str("op", "start").
		Str("resource_id", id.String()).Msg("domain started")
	return nil
}

// Stop force-stops a running, paused or shutting-down domain. Stopping an
// already stopped or undefined domain is a no-op.
func (c *Client) Stop(id types.ID) error {
	dom, ok := c.lookup(id)
	if !ok {
		return nil
	}

	raw, _, err := c.api.DomainGetState(dom, 0)
	if err != nil {
		return verr.Externalf(err, "get domain state")
	}

	switch Project(raw) {
	case types.StateRunning, types.StatePaused, types.StateShuttingDown:
		if err := c.api.DomainDestroy(dom); err != nil {
			return verr.Externalf(err, "destroy domain")
		}
	}
	return nil
}

// Undefine removes the domain definition, destroying it first when it is
// still active. An undefined domain is a no-op, so repeated undefines
// succeed.
func (c *Client) Undefine(id types.ID) error {
	dom, ok := c.lookup(id)
	if !ok {
		return nil
	}

	raw, _, err := c.api.DomainGetState(dom, 0)
	if err != nil {
		return verr.Externalf(err, "get domain state")
	}

	switch Project(raw) {
	case types.StateRunning, types.StatePaused, types.StateShuttingDown:
		if err := c.api.DomainDestroy(dom); err != nil {
			return verr.Externalf(err, "destroy domain")
		}
	}

	if err := c.api.DomainUndefine(dom); err != nil {
		return verr.Externalf(err, "undefine domain")
	}

	c.logger.Debug().Str("resource", "vm").Str("op", "undefine").
		Str("resource_id", id.String()).Msg("domain undefined")
	return nil
}

// ListAll returns every defined domain, active or not.
func (c *Client) ListAll() ([]libvirt.Domain, error) {
	flags := libvirt.ConnectListDomainsActive | libvirt.ConnectListDomainsInactive
	domains, _, err := c.api.ConnectListAllDomains(1, flags)
	if err != nil {
		return nil, verr.Externalf(err, "list domains")
	}
	return domains, nil
}
