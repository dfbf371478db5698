package switcheffector

import (
	"encoding/json"
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeSwitch answers each incoming JSON-RPC request with the next scripted
// result set, echoing the request id. It records every decoded request.
type fakeSwitch struct {
	conn     net.Conn
	requests []map[string]any
	results  [][]any
}

func newFakeSwitch(t *testing.T) (*Client, *fakeSwitch) {
	t.Helper()
	clientSide, serverSide := net.Pipe()
	fs := &fakeSwitch{conn: serverSide}
	go fs.serve()
	t.Cleanup(func() {
		clientSide.Close()
		serverSide.Close()
	})
	return NewWithConn(clientSide), fs
}

func (f *fakeSwitch) serve() {
	dec := json.NewDecoder(f.conn)
	for {
		var req map[string]any
		if err := dec.Decode(&req); err != nil {
			return
		}
		f.requests = append(f.requests, req)

		var result []any
		if len(f.results) > 0 {
			result = f.results[0]
			f.results = f.results[1:]
		}
		resp := map[string]any{
			"id":     req["id"],
			"result": result,
			"error":  nil,
		}
		data, _ := json.Marshal(resp)
		if _, err := f.conn.Write(data); err != nil {
			return
		}
	}
}

// script queues one response's result array.
func (f *fakeSwitch) script(result ...any) {
	f.results = append(f.results, result)
}

func emptyRows() map[string]any {
	return map[string]any{"rows": []any{}}
}

func rowsWith(name, uuid string) map[string]any {
	return map[string]any{"rows": []any{
		map[string]any{"name": name, "_uuid": []any{"uuid", uuid}},
	}}
}

func TestListDBs(t *testing.T) {
	c, fs := newFakeSwitch(t)
	fs.script("Open_vSwitch", "_Server")

	dbs, err := c.ListDBs()
	require.NoError(t, err)
	assert.Equal(t, []string{"Open_vSwitch", "_Server"}, dbs)

	require.Len(t, fs.requests, 1)
	assert.Equal(t, "list_dbs", fs.requests[0]["method"])
}

func TestTransactIDsIncrease(t *testing.T) {
	c, fs := newFakeSwitch(t)
	fs.script(emptyRows())
	fs.script(emptyRows())

	_, err := c.Transact(selectOp("Bridge", whereAll()))
	require.NoError(t, err)
	_, err = c.Transact(selectOp("Bridge", whereAll()))
	require.NoError(t, err)

	require.Len(t, fs.requests, 2)
	assert.Equal(t, float64(0), fs.requests[0]["id"])
	assert.Equal(t, float64(1), fs.requests[1]["id"])
}

func TestCreatePortTransactionShape(t *testing.T) {
	c, fs := newFakeSwitch(t)
	// Port lookup finds nothing, then the insert transaction runs.
	fs.script(emptyRows())
	fs.script(
		map[string]any{"uuid": []any{"uuid", "port-uuid"}},
		map[string]any{"uuid": []any{"uuid", "iface-uuid"}},
		map[string]any{"count": 1},
	)

	require.NoError(t, c.CreatePort("virtus0", "abcd1234", 100))
	require.Len(t, fs.requests, 2)

	params := fs.requests[1]["params"].([]any)
	require.Len(t, params, 4) // db name + three ops
	assert.Equal(t, "Open_vSwitch", params[0])

	insertPort := params[1].(map[string]any)
	assert.Equal(t, "insert", insertPort["op"])
	assert.Equal(t, "Port", insertPort["table"])
	assert.Equal(t, "new_port", insertPort["uuid-name"])
	row := insertPort["row"].(map[string]any)
	assert.Equal(t, "abcd1234", row["name"])
	assert.Equal(t, []any{"named-uuid", "new_interface"}, row["interfaces"])
	assert.Equal(t, float64(100), row["tag"])

	insertIface := params[2].(map[string]any)
	assert.Equal(t, "insert", insertIface["op"])
	assert.Equal(t, "Interface", insertIface["table"])
	ifaceRow := insertIface["row"].(map[string]any)
	assert.Equal(t, "abcd1234", ifaceRow["name"])
	assert.Equal(t, "internal", ifaceRow["type"])

	mutate := params[3].(map[string]any)
	assert.Equal(t, "mutate", mutate["op"])
	assert.Equal(t, "Bridge", mutate["table"])
}

func TestCreatePortUntaggedOmitsTag(t *testing.T) {
	c, fs := newFakeSwitch(t)
	fs.script(emptyRows())
	fs.script(
		map[string]any{"uuid": []any{"uuid", "port-uuid"}},
		map[string]any{"uuid": []any{"uuid", "iface-uuid"}},
		map[string]any{"count": 1},
	)

	require.NoError(t, c.CreatePort("virtus0", "abcd1234", 0))

	params := fs.requests[1]["params"].([]any)
	row := params[1].(map[string]any)["row"].(map[string]any)
	_, tagged := row["tag"]
	assert.False(t, tagged)
}

func TestCreatePortExistingIsNoOp(t *testing.T) {
	c, fs := newFakeSwitch(t)
	fs.script(rowsWith("abcd1234", "existing-uuid"))

	require.NoError(t, c.CreatePort("virtus0", "abcd1234", 0))
	// Only the select ran; no insert transaction followed.
	assert.Len(t, fs.requests, 1)
}

func TestDeletePortMissingTolerated(t *testing.T) {
	c, fs := newFakeSwitch(t)
	fs.script(emptyRows())

	require.NoError(t, c.DeletePort("virtus0", "gone"))
	assert.Len(t, fs.requests, 1)
}

func TestDeletePortEmitsInverseOps(t *testing.T) {
	c, fs := newFakeSwitch(t)
	fs.script(rowsWith("abcd1234", "port-uuid"))
	fs.script(
		map[string]any{"count": 1},
		map[string]any{"count": 1},
		map[string]any{"count": 1},
	)

	require.NoError(t, c.DeletePort("virtus0", "abcd1234"))
	require.Len(t, fs.requests, 2)

	params := fs.requests[1]["params"].([]any)
	require.Len(t, params, 4)
	assert.Equal(t, "mutate", params[1].(map[string]any)["op"])
	assert.Equal(t, "Bridge", params[1].(map[string]any)["table"])
	assert.Equal(t, "delete", params[2].(map[string]any)["op"])
	assert.Equal(t, "Interface", params[2].(map[string]any)["table"])
	assert.Equal(t, "delete", params[3].(map[string]any)["op"])
	assert.Equal(t, "Port", params[3].(map[string]any)["table"])
}

func TestEnsureBridgeIdempotent(t *testing.T) {
	c, fs := newFakeSwitch(t)
	fs.script(rowsWith("virtus0", "bridge-uuid"))

	require.NoError(t, c.EnsureBridge("virtus0"))
	assert.Len(t, fs.requests, 1)
}

func TestTransactOpError(t *testing.T) {
	c, fs := newFakeSwitch(t)
	fs.script(map[string]any{"error": "constraint violation", "details": "duplicate name"})

	_, err := c.Transact(selectOp("Bridge", whereAll()))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "constraint violation")
}
