package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ewp-backend/blockchain/ledger"
	"ewp-backend/encryption"
	"ewp-backend/models"
)

func newTestServer(t *testing.T, role models.NodeRole, token string) (*httptest.Server, *ledger.Node) {
	key, err := ledger.GenerateAckKey()
	require.NoError(t, err)
	node := ledger.NewNode("test-"+string(role), role, ledger.NewMemoryStore(), key, 8)
	node.Start()
	ts := httptest.NewServer(NewServerWithNode(node, token).Handler())
	t.Cleanup(func() {
		ts.Close()
		node.Stop()
	})
	return ts, node
}

func sthEvent(t *testing.T, size int) *models.VclEvent {
	signer, err := encryption.NewSigner()
	require.NoError(t, err)
	ev, err := ledger.NewEvent(signer, &models.STHPublishedPayload{
		ElectionID: "e1",
		STH:        models.SignedTreeHead{TreeSize: size, RootHash: strings.Repeat("a", 64)},
	}, time.Now())
	require.NoError(t, err)
	return ev
}

func TestServer_AppendAndRead(t *testing.T) {
	ts, node := newTestServer(t, models.RoleFederal, "secret")
	client := ledger.NewClient(ts.URL, "secret", models.RoleFederal, time.Second)
	ctx := context.Background()

	info, err := client.Node(ctx)
	require.NoError(t, err)
	assert.Equal(t, models.RoleFederal, info.Role)
	assert.Equal(t, node.PublicJWK().KeyID, info.SigningKey.KeyID)

	ev := sthEvent(t, 1)
	res, err := client.Append(ctx, ev)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), res.Entry.Index)
	assert.False(t, res.Duplicate)
	assert.True(t, ledger.VerifyAck(res.Ack, info.SigningKey))

	again, err := client.Append(ctx, ev)
	require.NoError(t, err)
	assert.True(t, again.Duplicate)
	assert.Equal(t, res.Entry.Hash, again.Entry.Hash)

	head, err := client.Head(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), head.Height)
	assert.Equal(t, res.Entry.Hash, head.HeadHash)

	entries, err := client.AllEntries(ctx)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.True(t, ledger.VerifyChain(entries).OK())
}

func TestServer_AppendStatusCodes(t *testing.T) {
	ts, _ := newTestServer(t, models.RoleFederal, "secret")
	body, err := json.Marshal(sthEvent(t, 2))
	require.NoError(t, err)

	post := func(token string) *http.Response {
		req, err := http.NewRequest(http.MethodPost, ts.URL+"/v1/ledger/append", strings.NewReader(string(body)))
		require.NoError(t, err)
		if token != "" {
			req.Header.Set("Authorization", "Bearer "+token)
		}
		resp, err := http.DefaultClient.Do(req)
		require.NoError(t, err)
		t.Cleanup(func() { resp.Body.Close() })
		return resp
	}

	assert.Equal(t, http.StatusUnauthorized, post("").StatusCode)
	assert.Equal(t, http.StatusUnauthorized, post("wrong").StatusCode)
	assert.Equal(t, http.StatusCreated, post("secret").StatusCode)
	assert.Equal(t, http.StatusOK, post("secret").StatusCode)

	// The token alone, without the Bearer scheme, is not enough.
	req, err := http.NewRequest(http.MethodPost, ts.URL+"/v1/ledger/append", strings.NewReader(string(body)))
	require.NoError(t, err)
	req.Header.Set("Authorization", "secret")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestServer_EmptyTokenRefusesAppends(t *testing.T) {
	ts, _ := newTestServer(t, models.RoleFederal, "")
	_, err := ledger.NewClient(ts.URL, "", models.RoleFederal, time.Second).Append(context.Background(), sthEvent(t, 1))
	require.Error(t, err)
	assert.Equal(t, models.ErrUnauthorized, models.AsError(err).Code)

	cfg := DefaultNodeConfig()
	cfg.KeyFile = ""
	_, err = NewServer(cfg)
	assert.ErrorIs(t, err, ErrNoToken)
}

func TestServer_EngineKidAllowlist(t *testing.T) {
	engine, err := encryption.NewSigner()
	require.NoError(t, err)
	cfg := DefaultNodeConfig()
	cfg.KeyFile = ""
	cfg.Token = "secret"
	cfg.EngineKids = []string{engine.Kid()}
	srv, err := NewServer(cfg)
	require.NoError(t, err)
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(func() {
		ts.Close()
		srv.Shutdown(context.Background())
	})
	client := ledger.NewClient(ts.URL, "secret", models.RoleFederal, time.Second)

	_, err = client.Append(context.Background(), sthEvent(t, 1))
	require.Error(t, err)
	assert.Equal(t, models.ErrUnauthorized, models.AsError(err).Code)

	ev, err := ledger.NewEvent(engine, &models.STHPublishedPayload{
		ElectionID: "e1",
		STH:        models.SignedTreeHead{TreeSize: 1, RootHash: strings.Repeat("b", 64)},
	}, time.Now())
	require.NoError(t, err)
	res, err := client.Append(context.Background(), ev)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), res.Entry.Index)
}

func TestServer_HealthAndKey(t *testing.T) {
	ts, node := newTestServer(t, models.RoleOversight, "secret")

	resp, err := http.Get(ts.URL + "/health")
	require.NoError(t, err)
	defer resp.Body.Close()
	var body map[string]interface{}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, true, body["ok"])
	assert.Equal(t, node.ID, body["node_id"])
	assert.Equal(t, string(models.RoleOversight), body["role"])
	ts1, ok := body["ts"].(string)
	require.True(t, ok)
	_, err = models.ParseTime(ts1)
	assert.NoError(t, err)
	assert.NotContains(t, body, "status")

	resp2, err := http.Get(ts.URL + "/v1/key")
	require.NoError(t, err)
	defer resp2.Body.Close()
	var key KeyInfo
	require.NoError(t, json.NewDecoder(resp2.Body).Decode(&key))
	assert.Equal(t, node.PublicJWK().KeyID, key.Kid)
	assert.Equal(t, key.Kid, key.JWK.KeyID)
	assert.True(t, key.JWK.IsPublic())
}

func TestServer_ForbiddenEventType(t *testing.T) {
	ts, _ := newTestServer(t, models.RoleState, "secret")
	signer, err := encryption.NewSigner()
	require.NoError(t, err)
	ev, err := ledger.NewEvent(signer, &models.TallyPublishedPayload{ElectionID: "e1", TallyID: "t1"}, time.Now())
	require.NoError(t, err)

	_, err = ledger.NewClient(ts.URL, "secret", models.RoleState, time.Second).Append(context.Background(), ev)
	require.Error(t, err)
	e := models.AsError(err)
	assert.Equal(t, models.ErrForbiddenEventType, e.Code)
}

func TestServer_EntriesPaging(t *testing.T) {
	ts, _ := newTestServer(t, models.RoleOversight, "secret")
	client := ledger.NewClient(ts.URL, "secret", models.RoleOversight, time.Second)
	ctx := context.Background()
	for i := 1; i <= 3; i++ {
		_, err := client.Append(ctx, sthEvent(t, i))
		require.NoError(t, err)
	}

	page, err := client.Entries(ctx, 1, 2)
	require.NoError(t, err)
	assert.Len(t, page.Entries, 2)
	assert.Equal(t, uint64(3), page.NextFrom)

	page, err = client.Entries(ctx, 3, 2)
	require.NoError(t, err)
	assert.Len(t, page.Entries, 1)
	assert.Zero(t, page.NextFrom)

	resp, err := http.Get(ts.URL + "/v1/ledger/entries/9")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	var er models.ErrorResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&er))
	assert.Equal(t, models.ErrNotFound, er.Error.Code)

	resp2, err := http.Get(ts.URL + "/v1/ledger/entries?limit=abc")
	require.NoError(t, err)
	defer resp2.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp2.StatusCode)
}

func TestLoadNodeConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "node.toml")
	require.NoError(t, os.WriteFile(path, []byte(`
node_id = "state-7"
role = "state"
listen = ":9090"
token = "tok"
queue_size = 16
engine_kids = ["0xabc"]
`), 0644))

	cfg, err := LoadNodeConfig(path)
	require.NoError(t, err)
	assert.Equal(t, "state-7", cfg.NodeID)
	assert.Equal(t, models.RoleState, cfg.Role)
	assert.Equal(t, ":9090", cfg.Listen)
	assert.Equal(t, 16, cfg.QueueSize)
	assert.Equal(t, []string{"0xabc"}, cfg.EngineKids)

	require.NoError(t, os.WriteFile(path, []byte(`role = "county"`), 0644))
	_, err = LoadNodeConfig(path)
	assert.Error(t, err)
}
