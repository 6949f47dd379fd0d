package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/gofrs/uuid/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/and161185/petmem/internal/errs"
	"github.com/and161185/petmem/internal/model"
)

func fakeBackend(t *testing.T, userID uuid.UUID) *httptest.Server {
	t.Helper()
	user := fmt.Sprintf(`{"id":%q,"email":"ann@real-domain.com","display_name":"Ann"}`, userID)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/auth/login":
			var body struct{ Password string }
			_ = json.NewDecoder(r.Body).Decode(&body)
			if body.Password != "secret1" {
				w.WriteHeader(http.StatusUnauthorized)
				return
			}
			fmt.Fprintf(w, `{"access_token":"tok","user":%s}`, user)
		case "/auth/validate":
			fmt.Fprintf(w, `{"user":%s}`, user)
		case "/auth/logout", "/rest/v1/orders":
			w.WriteHeader(http.StatusNoContent)
		case "/pets", "/memorial_videos", "/letters":
			_, _ = w.Write([]byte(`{"data":[]}`))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func setupEnv(t *testing.T) uuid.UUID {
	t.Helper()
	dir := t.TempDir()
	t.Chdir(dir)
	userID := uuid.Must(uuid.NewV4())
	srv := fakeBackend(t, userID)
	t.Setenv("PETMEM_GATEWAY_URL", srv.URL)
	t.Setenv("PETMEM_BACKEND_URL", srv.URL)
	t.Setenv("PETMEM_DATA_DIR", filepath.Join(dir, "data"))
	t.Setenv("PETMEM_DETECT_TUNNEL", "false")
	t.Setenv("PETMEM_ORDER_STEP_DELAY", "1ms")
	t.Setenv("PETMEM_AUTO_LOGIN_INTERVAL", "1ms")
	return userID
}

func run(t *testing.T, stdin string, args ...string) (string, error) {
	t.Helper()
	c := &cli{}
	cmd := newRootCmd(c)
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(io.Discard)
	cmd.SetIn(strings.NewReader(stdin))
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	require.NoError(t, c.close())
	return out.String(), err
}

func TestCLI_SessionCartAndCheckout(t *testing.T) {
	userID := setupEnv(t)

	out, err := run(t, "", "status")
	require.NoError(t, err)
	assert.Contains(t, out, `"state": "logged_out"`)

	_, err = run(t, "", "login", "-e", "ann@real-domain.com", "-p", "wrong")
	require.ErrorIs(t, err, errs.ErrUnauthorized)

	out, err = run(t, "secret1\n", "login", "-e", "ann@real-domain.com", "--password-file", "-")
	require.NoError(t, err)
	var sv sessionView
	require.NoError(t, json.Unmarshal([]byte(out), &sv))
	assert.Equal(t, "logged_in", sv.State)
	assert.Equal(t, userID.String(), sv.UserID)
	assert.NotContains(t, out, "tok", "token must not be printed")

	// a new process resumes the session from the stored token
	out, err = run(t, "", "status")
	require.NoError(t, err)
	assert.Contains(t, out, `"state": "logged_in"`)

	_, err = run(t, "", "cart", "add", "--ref", "urn", "--name", "Oak urn", "--price", "12900")
	require.NoError(t, err)
	_, err = run(t, "", "cart", "add", "--ref", "urn", "--name", "Oak urn", "--price", "12900")
	require.NoError(t, err)

	out, err = run(t, "", "cart")
	require.NoError(t, err)
	var items []model.CartItem
	require.NoError(t, json.Unmarshal([]byte(out), &items))
	require.Len(t, items, 1)
	assert.Equal(t, 2, items[0].Quantity)

	out, err = run(t, "", "checkout", "--name", "Ann Lee", "--email", "ann@real-domain.com", "--address", "1 Elm St")
	require.NoError(t, err)
	var o model.Order
	require.NoError(t, json.Unmarshal([]byte(out), &o))
	assert.Equal(t, int64(25800), o.TotalAmount)
	assert.Equal(t, model.OrderDelivered, o.Status)

	out, err = run(t, "", "orders", "show", o.ID.String())
	require.NoError(t, err)
	assert.Contains(t, out, o.TrackingNumber)

	_, err = run(t, "", "checkout", "--name", "Ann Lee", "--email", "ann@real-domain.com", "--address", "1 Elm St")
	require.ErrorIs(t, err, errs.ErrEmptyCart)

	_, err = run(t, "", "logout")
	require.NoError(t, err)
	out, err = run(t, "", "status")
	require.NoError(t, err)
	assert.Contains(t, out, `"state": "logged_out"`)

	_, err = run(t, "", "orders")
	require.ErrorIs(t, err, errs.ErrNotLoggedIn)
}

func TestCLI_CartRejectsBadID(t *testing.T) {
	setupEnv(t)
	_, err := run(t, "", "login", "-e", "ann@real-domain.com", "-p", "secret1")
	require.NoError(t, err)

	_, err = run(t, "", "cart", "rm", "not-a-uuid")
	require.ErrorIs(t, err, errs.ErrInvalidInput)
	assert.Equal(t, "Not a valid ID.", describe(err))
}

func TestReadSecret(t *testing.T) {
	got, err := readSecret("inline", "", nil)
	require.NoError(t, err)
	assert.Equal(t, "inline", got)

	got, err = readSecret("", "-", strings.NewReader("from-stdin\r\n"))
	require.NoError(t, err)
	assert.Equal(t, "from-stdin", got)

	p := filepath.Join(t.TempDir(), "pw")
	require.NoError(t, os.WriteFile(p, []byte("from-file\n"), 0o600))
	got, err = readSecret("", p, nil)
	require.NoError(t, err)
	assert.Equal(t, "from-file", got)
}

func TestDescribe(t *testing.T) {
	assert.Equal(t, "Your cart is empty.", describe(errs.ErrEmptyCart))
	assert.Equal(t, "read config x: boom", describe(fmt.Errorf("read config x: boom")))
}
