package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AlverezYari/finecam/internal/capture"
	"github.com/AlverezYari/finecam/internal/session"
)

var (
	adminSession = &session.Session{AccessToken: "admin-token", UserName: "root", Role: session.RoleAdmin}
	userSession  = &session.Session{AccessToken: "user-token", UserName: "op", Role: session.RoleUser}
)

func newTestClient(t *testing.T, h http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	c, err := NewClient(Config{BaseURL: srv.URL + "/api"}, zerolog.Nop())
	require.NoError(t, err)
	return c
}

func writeJSON(t *testing.T, w http.ResponseWriter, status int, v any) {
	t.Helper()
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	require.NoError(t, json.NewEncoder(w).Encode(v))
}

func TestLogin(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/api/Users/login", r.URL.Path)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		assert.NotEmpty(t, r.Header.Get(RequestIDHeader))
		assert.Empty(t, r.Header.Get("Authorization"))

		var body map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "op", body["userName"])
		assert.Equal(t, "secret", body["password"])

		writeJSON(t, w, http.StatusOK, map[string]any{
			"isSuccess": true,
			"results": map[string]any{
				"accessToken": "tok",
				"userDetails": map[string]any{"role": "User"},
			},
		})
	})

	s, err := c.Login(context.Background(), "op", "secret")
	require.NoError(t, err)
	assert.Equal(t, &session.Session{AccessToken: "tok", UserName: "op", Role: session.RoleUser}, s)
}

func TestLoginFailure(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		writeJSON(t, w, http.StatusOK, map[string]any{
			"isSuccess": false,
			"errors":    []map[string]any{{"code": 401, "message": "bad credentials"}},
		})
	})

	_, err := c.Login(context.Background(), "op", "wrong")
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, []string{"401"}, apiErr.Codes)
	assert.Equal(t, []string{"bad credentials"}, apiErr.Messages)
	assert.ErrorIs(t, err, ErrUnauthorized)

	_, err = c.Login(context.Background(), "", "x")
	assert.ErrorIs(t, err, ErrMissingCredentials)
}

func TestHTTPErrorWithoutEnvelope(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = io.WriteString(w, "token expired")
	})

	_, err := c.GetFine(context.Background(), userSession, "12")
	assert.ErrorIs(t, err, ErrUnauthorized)
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, "401", apiErr.Code())
	assert.Equal(t, []string{"token expired"}, apiErr.Messages)
}

func TestConnectionFailure(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	srv.Close()
	c, err := NewClient(Config{BaseURL: srv.URL}, zerolog.Nop())
	require.NoError(t, err)

	_, err = c.GetFine(context.Background(), userSession, "12")
	assert.ErrorIs(t, err, ErrConnection)
}

func TestFindUsers(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/Users/find-system-users", r.URL.Path)
		assert.Equal(t, "Bearer admin-token", r.Header.Get("Authorization"))
		q := r.URL.Query()
		assert.Equal(t, "ali", q.Get("name"))
		assert.Equal(t, "", q.Get("username"))
		assert.Equal(t, "true", q.Get("status"))
		assert.Equal(t, "2", q.Get("page"))
		assert.Equal(t, "10", q.Get("pageSize"))

		writeJSON(t, w, http.StatusOK, map[string]any{
			"isSuccess": true,
			"results": map[string]any{
				"result": []map[string]any{
					{"id": "u1", "name": "Ali", "username": "ali", "disabled": true},
				},
				"totalCount": 21,
			},
		})
	})

	page, err := c.FindUsers(context.Background(), adminSession, UserFilter{Name: "ali", Status: StatusDisabled, Page: 2})
	require.NoError(t, err)
	require.Len(t, page.Users, 1)
	assert.Equal(t, User{ID: "u1", Name: "Ali", UserName: "ali", Disabled: true}, page.Users[0])
	assert.Equal(t, 21, page.TotalCount)
	assert.Equal(t, 3, page.TotalPages)
	assert.Equal(t, 2, page.Page)
}

func TestFindUsersEmpty(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		writeJSON(t, w, http.StatusOK, map[string]any{"isSuccess": true, "results": nil})
	})

	page, err := c.FindUsers(context.Background(), adminSession, UserFilter{})
	require.NoError(t, err)
	assert.Empty(t, page.Users)
	assert.Equal(t, 0, page.TotalPages)
}

func TestRoleGating(t *testing.T) {
	var calls int
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls++
		writeJSON(t, w, http.StatusOK, map[string]any{"isSuccess": true})
	})
	ctx := context.Background()
	form := FineForm{RulingDecisionNum: "1", VehicleImage: &capture.File{Data: []byte{1}}}

	assert.ErrorIs(t, c.CreateFine(ctx, adminSession, form), ErrForbidden)
	assert.ErrorIs(t, c.DisableUser(ctx, userSession, "u1"), ErrForbidden)
	assert.ErrorIs(t, c.EnableUser(ctx, userSession, "u1"), ErrForbidden)
	assert.ErrorIs(t, c.UpdateUser(ctx, userSession, "u1", "n", "p"), ErrForbidden)
	_, err := c.FindUsers(ctx, userSession, UserFilter{})
	assert.ErrorIs(t, err, ErrForbidden)
	_, err = c.RegisterUser(ctx, userSession, NewUser{Name: "a", UserName: "a", Password: "p", UserType: session.RoleUser})
	assert.ErrorIs(t, err, ErrForbidden)
	_, err = c.GetFine(ctx, nil, "1")
	assert.ErrorIs(t, err, session.ErrNoSession)

	assert.Zero(t, calls)
}

func TestEnableDisableUser(t *testing.T) {
	var paths []string
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPatch, r.Method)
		paths = append(paths, r.URL.Path)
		writeJSON(t, w, http.StatusOK, map[string]any{"isSuccess": true})
	})
	ctx := context.Background()

	require.NoError(t, c.DisableUser(ctx, adminSession, "u1"))
	require.NoError(t, c.EnableUser(ctx, adminSession, "u1"))
	assert.Equal(t, []string{
		"/api/Users/u1/disable-user-account",
		"/api/Users/u1/enable-user-account",
	}, paths)
}

func TestUserIDStaysInOneSegment(t *testing.T) {
	var escaped, rawQuery []string
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		escaped = append(escaped, r.URL.EscapedPath())
		rawQuery = append(rawQuery, r.URL.RawQuery)
		writeJSON(t, w, http.StatusOK, map[string]any{"isSuccess": true})
	})
	ctx := context.Background()

	require.NoError(t, c.DisableUser(ctx, adminSession, "../../admin/reset?x="))
	require.NoError(t, c.EnableUser(ctx, adminSession, "a/b"))
	assert.Equal(t, []string{
		"/api/Users/..%2F..%2Fadmin%2Freset%3Fx=/disable-user-account",
		"/api/Users/a%2Fb/enable-user-account",
	}, escaped)
	assert.Equal(t, []string{"", ""}, rawQuery)

	for _, id := range []string{"", ".", ".."} {
		assert.Error(t, c.DisableUser(ctx, adminSession, id), id)
	}
	assert.Len(t, escaped, 2, "refused ids never reach the server")
}

func TestUpdateUser(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPatch, r.Method)
		assert.Equal(t, "/api/Users/update-user-account", r.URL.Path)
		assert.Equal(t, "u7", r.URL.Query().Get("UserId"))
		var body map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, map[string]string{"name": "New", "password": "pw"}, body)
		writeJSON(t, w, http.StatusOK, map[string]any{"isSuccess": true})
	})

	require.NoError(t, c.UpdateUser(context.Background(), adminSession, "u7", "New", "pw"))
}

func TestRegisterUser(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/Users/Register-new-user", r.URL.Path)
		var body map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "user", body["userType"])
		assert.Equal(t, "sam", body["userName"])
		writeJSON(t, w, http.StatusOK, map[string]any{
			"isSuccess": true,
			"results":   map[string]any{"id": "u9", "name": "Sam", "userName": "sam"},
		})
	})

	u, err := c.RegisterUser(context.Background(), adminSession, NewUser{
		Name: "Sam", UserName: "sam", Password: "pw", UserType: session.RoleUser,
	})
	require.NoError(t, err)
	assert.Equal(t, "u9", u.ID)
	assert.Equal(t, "sam", u.UserName)

	_, err = c.RegisterUser(context.Background(), adminSession, NewUser{Name: "Sam", UserType: "guest"})
	assert.ErrorIs(t, err, ErrMissingCredentials)
}

func TestChangePassword(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPatch, r.Method)
		assert.Equal(t, "Bearer user-token", r.Header.Get("Authorization"))
		require.NoError(t, r.ParseMultipartForm(1<<20))
		assert.Equal(t, "n3w", r.FormValue("Password"))
		writeJSON(t, w, http.StatusOK, map[string]any{"isSuccess": true})
	})

	require.NoError(t, c.ChangePassword(context.Background(), userSession, "n3w"))
}

func TestCreateFine(t *testing.T) {
	img := &capture.File{Name: capture.CroppedImageName, MIMEType: "image/png", Data: []byte("png-bytes")}
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/api/user/create-new-fine", r.URL.Path)
		require.NoError(t, r.ParseMultipartForm(1<<20))
		assert.Equal(t, "2024/77", r.FormValue("RulingDecisionNum"))

		f, hdr, err := r.FormFile("VehicleImagePath")
		require.NoError(t, err)
		defer f.Close()
		assert.Equal(t, "vehicleImagePath.png", hdr.Filename)
		assert.Equal(t, "image/png", hdr.Header.Get("Content-Type"))
		data, err := io.ReadAll(f)
		require.NoError(t, err)
		assert.Equal(t, img.Data, data)

		writeJSON(t, w, http.StatusOK, map[string]any{"isSuccess": true})
	})

	require.NoError(t, c.CreateFine(context.Background(), userSession, FineForm{
		RulingDecisionNum: " 2024/77 ",
		VehicleImage:      img,
	}))
}

func TestFineFormValidate(t *testing.T) {
	err := FineForm{}.Validate()
	assert.ErrorIs(t, err, ErrImageRequired)
	assert.ErrorIs(t, err, ErrRulingRequired)

	err = FineForm{RulingDecisionNum: "5"}.Validate()
	assert.ErrorIs(t, err, ErrImageRequired)
	assert.NotErrorIs(t, err, ErrRulingRequired)

	assert.NoError(t, FineForm{RulingDecisionNum: "5", VehicleImage: &capture.File{Data: []byte{1}}}.Validate())
}

func TestGetFine(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/user/get-fine", r.URL.Path)
		switch r.URL.Query().Get("rulingDecisionNum") {
		case "found":
			writeJSON(t, w, http.StatusOK, map[string]any{
				"isSuccess": true,
				"results": map[string]any{
					"rulingDecisionNum": "found",
					"dateOfOffence":     "2024-03-01T10:00:00",
					"vehicleImagePath":  "/uploads/a.png",
				},
			})
		case "missing":
			writeJSON(t, w, http.StatusOK, map[string]any{"isSuccess": true, "results": nil})
		default:
			writeJSON(t, w, http.StatusOK, map[string]any{
				"isSuccess": false,
				"errors":    []map[string]any{{"code": "404", "message": "not stored"}},
			})
		}
	})
	ctx := context.Background()

	fine, err := c.GetFine(ctx, adminSession, "found")
	require.NoError(t, err)
	assert.Equal(t, "found", fine.RulingDecisionNum)
	assert.Equal(t, "http://img.local/uploads/a.png", fine.ImageURL("http://img.local/"))

	_, err = c.GetFine(ctx, userSession, "missing")
	assert.ErrorIs(t, err, ErrFineNotFound)

	_, err = c.GetFine(ctx, userSession, "other")
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, "404", apiErr.Code())
	assert.False(t, errors.Is(err, ErrFineNotFound))

	_, err = c.GetFine(ctx, userSession, "  ")
	assert.ErrorIs(t, err, ErrRulingRequired)
}
