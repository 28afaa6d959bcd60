package api

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/AlverezYari/finecam/internal/session"
)

var ErrMissingCredentials = errors.New("username and password are required")

type User struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	UserName string `json:"username"`
	UserType string `json:"userType,omitempty"`
	Disabled bool   `json:"disabled"`
}

// UserStatus filters the user list. The backend's status parameter is the
// "disabled" flag, so enabled users are status=false.
type UserStatus string

const (
	StatusAll      UserStatus = ""
	StatusEnabled  UserStatus = "false"
	StatusDisabled UserStatus = "true"
)

const DefaultPageSize = 10

type UserFilter struct {
	Name     string
	UserName string
	Status   UserStatus
	Page     int
	PageSize int
}

func (f UserFilter) normalized() UserFilter {
	if f.Page < 1 {
		f.Page = 1
	}
	if f.PageSize < 1 {
		f.PageSize = DefaultPageSize
	}
	return f
}

func (f UserFilter) query() url.Values {
	f = f.normalized()
	q := url.Values{}
	q.Set("name", f.Name)
	q.Set("username", f.UserName)
	q.Set("status", string(f.Status))
	q.Set("page", strconv.Itoa(f.Page))
	q.Set("pageSize", strconv.Itoa(f.PageSize))
	return q
}

type UserPage struct {
	Users      []User
	TotalCount int
	TotalPages int
	Page       int
	PageSize   int
}

type NewUser struct {
	Name     string       `json:"name"`
	UserName string       `json:"userName"`
	Password string       `json:"password"`
	UserType session.Role `json:"userType"`
}

func (u NewUser) Validate() error {
	var errs []error
	if strings.TrimSpace(u.Name) == "" {
		errs = append(errs, errors.New("name is required"))
	}
	if strings.TrimSpace(u.UserName) == "" || u.Password == "" {
		errs = append(errs, ErrMissingCredentials)
	}
	if _, err := session.ParseRole(string(u.UserType)); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

type loginResults struct {
	AccessToken string `json:"accessToken"`
	UserDetails struct {
		Role string `json:"role"`
	} `json:"userDetails"`
}

// Login exchanges credentials for a session.
func (c *Client) Login(ctx context.Context, userName, password string) (*session.Session, error) {
	if strings.TrimSpace(userName) == "" || password == "" {
		return nil, ErrMissingCredentials
	}
	r, err := jsonRequest(http.MethodPost, "Users/login", nil, map[string]string{
		"userName": userName,
		"password": password,
	})
	if err != nil {
		return nil, err
	}
	env, err := c.do(ctx, r)
	if err != nil {
		return nil, err
	}

	var res loginResults
	if err := decodeResults(env, &res); err != nil {
		return nil, err
	}
	if res.AccessToken == "" {
		return nil, fmt.Errorf("login response carried no access token")
	}
	role, err := session.ParseRole(res.UserDetails.Role)
	if err != nil {
		return nil, err
	}

	c.logger.Info().Str("user", userName).Str("role", string(role)).Msg("Logged in")
	return &session.Session{AccessToken: res.AccessToken, UserName: userName, Role: role}, nil
}

func (c *Client) RegisterUser(ctx context.Context, s *session.Session, u NewUser) (*User, error) {
	if err := authorize(s, session.RoleAdmin); err != nil {
		return nil, err
	}
	if err := u.Validate(); err != nil {
		return nil, err
	}
	r, err := jsonRequest(http.MethodPost, "Users/Register-new-user", s, u)
	if err != nil {
		return nil, err
	}
	env, err := c.do(ctx, r)
	if err != nil {
		return nil, err
	}
	out := &User{Name: u.Name, UserName: u.UserName, UserType: string(u.UserType)}
	if err := decodeResults(env, out); err != nil {
		return nil, err
	}
	return out, nil
}

// UpdateUser changes a user's display name and password.
func (c *Client) UpdateUser(ctx context.Context, s *session.Session, id, name, password string) error {
	if err := authorize(s, session.RoleAdmin); err != nil {
		return err
	}
	if id == "" {
		return errors.New("user id is required")
	}
	r, err := jsonRequest(http.MethodPatch, "Users/update-user-account", s, map[string]string{
		"name":     name,
		"password": password,
	})
	if err != nil {
		return err
	}
	r.query = url.Values{"UserId": {id}}
	_, err = c.do(ctx, r)
	return err
}

func (c *Client) DisableUser(ctx context.Context, s *session.Session, id string) error {
	return c.setUserEnabled(ctx, s, id, false)
}

func (c *Client) EnableUser(ctx context.Context, s *session.Session, id string) error {
	return c.setUserEnabled(ctx, s, id, true)
}

func (c *Client) setUserEnabled(ctx context.Context, s *session.Session, id string, enabled bool) error {
	if err := authorize(s, session.RoleAdmin); err != nil {
		return err
	}
	segment, err := pathSegment(id)
	if err != nil {
		return fmt.Errorf("user %w", err)
	}
	action := "disable-user-account"
	if enabled {
		action = "enable-user-account"
	}
	_, err = c.do(ctx, request{
		method:  http.MethodPatch,
		path:    "Users/" + segment + "/" + action,
		session: s,
	})
	if err == nil {
		c.logger.Info().Str("user_id", id).Bool("enabled", enabled).Msg("User account updated")
	}
	return err
}

type userPageResults struct {
	Result     []User `json:"result"`
	TotalCount int    `json:"totalCount"`
}

// FindUsers returns one page of system users.
func (c *Client) FindUsers(ctx context.Context, s *session.Session, f UserFilter) (*UserPage, error) {
	if err := authorize(s, session.RoleAdmin); err != nil {
		return nil, err
	}
	f = f.normalized()
	env, err := c.do(ctx, request{
		method:  http.MethodGet,
		path:    "Users/find-system-users",
		query:   f.query(),
		session: s,
	})
	if err != nil {
		return nil, err
	}

	var res userPageResults
	if err := decodeResults(env, &res); err != nil {
		return nil, err
	}
	page := &UserPage{
		Users:      res.Result,
		TotalCount: res.TotalCount,
		Page:       f.Page,
		PageSize:   f.PageSize,
	}
	if page.Users == nil {
		page.Users = []User{}
	}
	page.TotalPages = (res.TotalCount + f.PageSize - 1) / f.PageSize
	return page, nil
}

// ChangePassword sets the logged-in user's own password.
func (c *Client) ChangePassword(ctx context.Context, s *session.Session, password string) error {
	if err := authorize(s); err != nil {
		return err
	}
	if password == "" {
		return errors.New("password is required")
	}

	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	if err := w.WriteField("Password", password); err != nil {
		return fmt.Errorf("failed to build form: %w", err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("failed to build form: %w", err)
	}

	_, err := c.do(ctx, request{
		method:      http.MethodPatch,
		path:        "Users/change-password",
		body:        &buf,
		contentType: w.FormDataContentType(),
		session:     s,
	})
	return err
}
