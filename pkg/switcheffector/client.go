// Package switcheffector manages bridges, ports and internal interfaces on
// the local host's software switch through the OVSDB JSON-RPC protocol
// (RFC 7047) over a unix-domain stream. Inserts reference each other by
// named placeholders the switch resolves at commit; deletes tolerate
// missing targets so teardown is re-runnable.
package switcheffector

import (
	"encoding/json"
	"fmt"
	"net"
	"sync"

	"github.com/cuemby/virtus/pkg/verr"
	"github.com/cuemby/virtus/pkg/vlog"
	"github.com/rs/zerolog"
)

// DefaultSocket is the switch database's management socket.
const DefaultSocket = "/var/run/openvswitch/db.sock"

// DefaultDatabase is the schema every transaction targets.
const DefaultDatabase = "Open_vSwitch"

// request is one JSON-RPC call. IDs strictly increase per connection and
// wrap to zero on overflow; the protocol allows any JSON value as id.
type request struct {
	Method string `json:"method"`
	ID     uint32 `json:"id"`
	Params []any  `json:"params"`
}

type response struct {
	ID     uint32            `json:"id"`
	Result []json.RawMessage `json:"result"`
	Error  any               `json:"error"`
}

// Row is one record returned by a select. Only the columns the effector
// reads are decoded.
type Row struct {
	Name string    `json:"name"`
	UUID [2]string `json:"_uuid"`
}

// Result is one entry of a transact reply, positionally matching the
// operation at the same index in the request.
type Result struct {
	UUID    *[2]string `json:"uuid,omitempty"`
	Rows    []Row      `json:"rows,omitempty"`
	Count   int        `json:"count,omitempty"`
	Error   string     `json:"error,omitempty"`
	Details string     `json:"details,omitempty"`
}

// Client is a connection to the switch database. One request may be
// outstanding at a time; the mutex serializes callers.
type Client struct {
	mu     sync.Mutex
	conn   net.Conn
	dec    *json.Decoder
	db     string
	msgID  uint32
	logger zerolog.Logger
}

// Dial connects to the switch database socket.
func Dial(socketPath string) (*Client, error) {
	conn, err := net.Dial("unix", socketPath)
	if err != nil {
		return nil, verr.Wrap(verr.KindUnavailable, fmt.Sprintf("connect switch socket %s", socketPath), err)
	}
	return NewWithConn(conn), nil
}

// NewWithConn wraps an established stream. Tests use this with net.Pipe.
func NewWithConn(conn net.Conn) *Client {
	return &Client{
		conn:   conn,
		dec:    json.NewDecoder(conn),
		db:     DefaultDatabase,
		logger: vlog.WithComponent("switch-effector"),
	}
}

// Close tears down the stream.
func (c *Client) Close() error { return c.conn.Close() }

// rpc sends one request and reads back the matching response. JSON
// documents are framed back-to-back on the stream; the decoder assembles
// bytes until a full document parses.
func (c *Client) rpc(method string, params []any) (*response, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	req := request{Method: method, ID: c.msgID, Params: params}
	c.msgID++ // wraps to zero on overflow
	msg, err := json.Marshal(req)
	if err != nil {
		return nil, err
	}
	if _, err := c.conn.Write(msg); err != nil {
		return nil, verr.Wrap(verr.KindUnavailable, "write to switch socket", err)
	}

	var resp response
	if err := c.dec.Decode(&resp); err != nil {
		return nil, verr.Wrap(verr.KindUnavailable, "read from switch socket", err)
	}
	if resp.ID != req.ID {
		return nil, verr.Externalf(nil, "switch response id %d does not match request id %d", resp.ID, req.ID)
	}

	if resp.Error != nil {
		return nil, verr.Externalf(nil, "switch rpc error: %v", resp.Error)
	}
	return &resp, nil
}

// ListDBs returns the database names the switch serves.
func (c *Client) ListDBs() ([]string, error) {
	resp, err := c.rpc("list_dbs", []any{})
	if err != nil {
		return nil, err
	}
	dbs := make([]string, 0, len(resp.Result))
	for _, raw := range resp.Result {
		var name string
		if err := json.Unmarshal(raw, &name); err != nil {
			return nil, verr.Externalf(err, "decode list_dbs entry")
		}
		dbs = append(dbs, name)
	}
	return dbs, nil
}

// GetSchema returns the named database's schema document, unparsed.
func (c *Client) GetSchema(db string) (json.RawMessage, error) {
	resp, err := c.rpc("get_schema", []any{db})
	if err != nil {
		return nil, err
	}
	if len(resp.Result) == 0 {
		return nil, verr.Externalf(nil, "get_schema returned no result")
	}
	return resp.Result[0], nil
}

// Transact runs the ordered op list as one transaction and returns one
// result per op, in request order. A per-op error inside an otherwise
// successful reply is surfaced as an error.
func (c *Client) Transact(ops ...Op) ([]Result, error) {
	params := make([]any, 0, len(ops)+1)
	params = append(params, c.db)
	for _, op := range ops {
		params = append(params, op)
	}

	resp, err := c.rpc("transact", params)
	if err != nil {
		return nil, err
	}

	results := make([]Result, 0, len(resp.Result))
	for i, raw := range resp.Result {
		var r Result
		if err := json.Unmarshal(raw, &r); err != nil {
			return nil, verr.Externalf(err, "decode transact result %d", i)
		}
		if r.Error != "" {
			return nil, verr.Externalf(nil, "switch transaction op %d: %s: %s", i, r.Error, r.Details)
		}
		results = append(results, r)
	}
	return results, nil
}

// findBridge returns the uuid of the named bridge, or "" if absent.
func (c *Client) findBridge(name string) (string, error) {
	results, err := c.Transact(selectOp("Bridge", whereEq("name", name)))
	if err != nil {
		return "", err
	}
	if len(results) == 0 || len(results[0].Rows) == 0 {
		return "", nil
	}
	return results[0].Rows[0].UUID[1], nil
}

// findPort returns the uuid of the named port, or "" if absent.
func (c *Client) findPort(name string) (string, error) {
	results, err := c.Transact(selectOp("Port", whereEq("name", name)))
	if err != nil {
		return "", err
	}
	if len(results) == 0 || len(results[0].Rows) == 0 {
		return "", nil
	}
	return results[0].Rows[0].UUID[1], nil
}

// EnsureBridge creates the named bridge if it does not already exist.
// Idempotent: callers check for existing rows first because inserts are not.
func (c *Client) EnsureBridge(name string) error {
	uuid, err := c.findBridge(name)
	if err != nil {
		return err
	}
	if uuid != "" {
		return nil
	}

	if _, err := c.Transact(insertBridgeOps(name)...); err != nil {
		return err
	}
	c.logger.Debug().Str("op", "ensure_bridge").Str("bridge", name).Msg("bridge created")
	return nil
}

// DeleteBridge removes the named bridge. A missing bridge is not an error.
func (c *Client) DeleteBridge(name string) error {
	uuid, err := c.findBridge(name)
	if err != nil {
		return err
	}
	if uuid == "" {
		return nil
	}
	_, err = c.Transact(deleteBridgeOps(uuid)...)
	return err
}

// CreatePort creates an internal port named port on bridge, tagged with
// vlan when non-zero. The switch implicitly creates the interface row.
// An existing port of the same name is left untouched.
func (c *Client) CreatePort(bridge, port string, vlan uint32) error {
	uuid, err := c.findPort(port)
	if err != nil {
		return err
	}
	if uuid != "" {
		return nil
	}

	if _, err := c.Transact(insertPortOps(bridge, port, vlan)...); err != nil {
		return err
	}
	c.logger.Debug().Str("op", "create_port").Str("bridge", bridge).
		Str("port", port).Uint32("vlan", vlan).Msg("port created")
	return nil
}

// DeletePort removes the named port, its interface, and the bridge's
// reference to it. A missing port is not an error.
func (c *Client) DeletePort(bridge, port string) error {
	uuid, err := c.findPort(port)
	if err != nil {
		return err
	}
	if uuid == "" {
		return nil
	}

	if _, err := c.Transact(deletePortOps(bridge, port, uuid)...); err != nil {
		return err
	}
	c.logger.Debug().Str("op", "delete_port").Str("bridge", bridge).
		Str("port", port).Msg("port deleted")
	return nil
}
