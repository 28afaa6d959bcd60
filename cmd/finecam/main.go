// Package main is the finecam CLI: the operator TUI plus one-shot commands
// for the fines backend and the camera.
package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/AlverezYari/finecam/internal/api"
	"github.com/AlverezYari/finecam/internal/capture"
	"github.com/AlverezYari/finecam/internal/messages"
	"github.com/AlverezYari/finecam/internal/session"
	"github.com/AlverezYari/finecam/internal/tui"
)

var (
	// Version information (set at build time)
	version = "dev"

	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("62"))

	successStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("42"))

	errorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("196"))

	dimStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("241"))
)

const requestTimeout = 30 * time.Second

var (
	configPath string
	verbose    bool
)

// localizedError is already operator text and is printed as is.
type localizedError string

func (e localizedError) Error() string { return string(e) }

// run wraps a command body with a loaded app. Errors are printed localized;
// ones the catalog does not know keep their detail.
func run(fn func(cmd *cobra.Command, a *app, args []string) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		a, err := newApp(configPath, verbose)
		if err != nil {
			return err
		}
		defer a.Close()

		err = fn(cmd, a, args)
		if err == nil {
			return nil
		}
		a.log.Zerolog().Error().Err(err).Str("command", cmd.CommandPath()).Msg("Command failed")

		var done localizedError
		if errors.As(err, &done) {
			return done
		}
		text := messages.Localize(a.locale, err)
		if text == messages.Get(a.locale, messages.Unexpected) {
			text += ": " + err.Error()
		}
		return errors.New(text)
	}
}

func main() {
	rootCmd := &cobra.Command{
		Use:   "finecam",
		Short: "finecam - traffic fine photo capture",
		Long: titleStyle.Render("finecam") + `

Capture vehicle photos, crop them to the evidence frame and register
traffic fines with the fines service.

` + dimStyle.Render("Run without a command to open the operator console."),
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE:          run(runConsole),
	}
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "config file (default ~/.config/finecam/config.yaml)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "also log to stderr")

	rootCmd.AddCommand(
		serveCmd(),
		loginCmd(),
		logoutCmd(),
		captureCmd(),
		finesCmd(),
		usersCmd(),
		passwordCmd(),
		devicesCmd(),
		&cobra.Command{
			Use:   "version",
			Short: "Print the version",
			Run: func(cmd *cobra.Command, args []string) {
				fmt.Println("finecam", version)
			},
		},
	)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, errorStyle.Render("✗ "+err.Error()))
		os.Exit(1)
	}
}

func runConsole(cmd *cobra.Command, a *app, args []string) error {
	s, err := a.store.Load()
	if err != nil && !errors.Is(err, session.ErrNoSession) {
		return err
	}

	p := a.pipeline()
	defer p.Close()
	srv := a.server(p)
	defer func() {
		if srv.IsRunning() {
			srv.Stop()
		}
	}()

	program := tea.NewProgram(
		tui.New(tui.Deps{
			Pipeline:     p,
			Client:       a.client,
			Session:      s,
			Server:       srv,
			History:      a.log.History(),
			Locale:       a.locale,
			ImageBaseURL: a.cfg.API.ImageBaseURL,
			Logger:       a.log.Component("tui"),
		}),
		tea.WithAltScreen(),
		tea.WithMouseCellMotion(),
	)
	if _, err := program.Run(); err != nil {
		return fmt.Errorf("error running program: %w", err)
	}
	return nil
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the camera and serve the preview and capture API",
		RunE: run(func(cmd *cobra.Command, a *app, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			p := a.pipeline()
			defer p.Close()
			p.Start(ctx)

			srv := a.server(p)
			if err := srv.Start(); err != nil {
				return err
			}
			fmt.Println(successStyle.Render("✓ Serving on http://" + srv.Addr()))
			fmt.Println(dimStyle.Render("  preview: ws://" + srv.Addr() + "/ws/camera"))

			<-ctx.Done()
			return srv.Stop()
		}),
	}
}

func loginCmd() *cobra.Command {
	var userName, password string
	cmd := &cobra.Command{
		Use:   "login",
		Short: "Log in to the fines service",
		RunE: run(func(cmd *cobra.Command, a *app, args []string) error {
			if userName == "" {
				userName = prompt("Username: ")
			}
			if password == "" {
				var err error
				if password, err = promptPassword("Password: "); err != nil {
					return err
				}
			}

			ctx, cancel := context.WithTimeout(cmd.Context(), requestTimeout)
			defer cancel()
			s, err := a.client.Login(ctx, userName, password)
			if err != nil {
				return err
			}
			if err := a.store.Save(s); err != nil {
				return err
			}
			fmt.Println(successStyle.Render(fmt.Sprintf("✓ Logged in as %s (%s)", s.UserName, s.Role)))
			return nil
		}),
	}
	cmd.Flags().StringVarP(&userName, "username", "u", "", "user name")
	cmd.Flags().StringVarP(&password, "password", "p", "", "password (prompted if empty)")
	return cmd
}

func logoutCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Forget the stored session",
		RunE: run(func(cmd *cobra.Command, a *app, args []string) error {
			if err := a.store.Clear(); err != nil {
				return err
			}
			fmt.Println(successStyle.Render("✓ Logged out"))
			return nil
		}),
	}
}

func captureCmd() *cobra.Command {
	var (
		outDir string
		x, y   int
	)
	cmd := &cobra.Command{
		Use:   "capture",
		Short: "Take one photo with the default crop and write both PNGs",
		RunE: run(func(cmd *cobra.Command, a *app, args []string) error {
			ctx, cancel := context.WithTimeout(cmd.Context(), requestTimeout)
			defer cancel()

			p := a.pipeline()
			defer p.Close()
			if err := startCamera(ctx, p); err != nil {
				return err
			}
			frame, err := p.Capture(ctx)
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("x") || cmd.Flags().Changed("y") {
				crop := p.Crop()
				if !cmd.Flags().Changed("x") {
					x = crop.X
				}
				if !cmd.Flags().Changed("y") {
					y = crop.Y
				}
				if _, err := p.SetCropOrigin(x, y); err != nil {
					return err
				}
			}
			crop := p.Crop()
			photo, err := p.Save(ctx)
			if err != nil {
				return localizedError(messages.SaveFailed(a.locale, err))
			}

			for _, f := range []*capture.File{photo.FullImage, photo.CroppedImage} {
				path := filepath.Join(outDir, f.Name)
				if err := os.WriteFile(path, f.Data, 0644); err != nil {
					return fmt.Errorf("error writing %s: %w", path, err)
				}
				fmt.Println(dimStyle.Render("  " + path))
			}
			fmt.Println(successStyle.Render(fmt.Sprintf("✓ %s: %dx%d frame, crop %dx%d at (%d,%d)",
				messages.Get(a.locale, messages.SaveSuccess),
				frame.Width(), frame.Height(), crop.Width, crop.Height, crop.X, crop.Y)))
			return nil
		}),
	}
	cmd.Flags().StringVarP(&outDir, "out", "o", ".", "directory for fullImage.png and croppedImage.png")
	cmd.Flags().IntVar(&x, "x", 0, "crop origin x (default: centered)")
	cmd.Flags().IntVar(&y, "y", 0, "crop origin y (default: centered)")
	return cmd
}

func finesCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "fines",
		Short: "Register and look up fines",
	}

	var (
		ruling, image string
		crop          bool
	)
	create := &cobra.Command{
		Use:   "create",
		Short: "Register a fine with a cropped vehicle photo",
		RunE: run(func(cmd *cobra.Command, a *app, args []string) error {
			s, err := a.store.Load()
			if err != nil {
				return err
			}
			form := api.FineForm{RulingDecisionNum: ruling}
			ctx, cancel := context.WithTimeout(cmd.Context(), requestTimeout)
			defer cancel()

			switch {
			case image != "" && crop:
				if form.VehicleImage, err = a.cropFile(ctx, image); err != nil {
					return err
				}
			case image != "":
				if form.VehicleImage, err = readImageFile(image); err != nil {
					return err
				}
			}

			if err := a.client.CreateFine(ctx, s, form); err != nil {
				return err
			}
			fmt.Println(successStyle.Render("✓ " + messages.Get(a.locale, messages.FineCreated)))
			return nil
		}),
	}
	create.Flags().StringVarP(&ruling, "ruling", "r", "", "ruling decision number")
	create.Flags().StringVarP(&image, "image", "i", "", "cropped vehicle image (PNG or JPEG)")
	create.Flags().BoolVar(&crop, "crop", false, "apply the default crop to --image before upload")

	get := &cobra.Command{
		Use:   "get [ruling-decision-number]",
		Short: "Show a fine",
		Args:  cobra.ExactArgs(1),
		RunE: run(func(cmd *cobra.Command, a *app, args []string) error {
			s, err := a.store.Load()
			if err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), requestTimeout)
			defer cancel()
			fine, err := a.client.GetFine(ctx, s, args[0])
			if err != nil {
				return err
			}
			fmt.Printf("  Ruling decision number: %s\n", fine.RulingDecisionNum)
			fmt.Printf("  Date of offence:        %s\n", fine.DateOfOffence)
			fmt.Printf("  Vehicle image:          %s\n", fine.ImageURL(a.cfg.API.ImageBaseURL))
			return nil
		}),
	}

	cmd.AddCommand(create, get)
	return cmd
}

func usersCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "users",
		Short: "Manage system users (admin)",
	}

	var filter api.UserFilter
	var status string
	list := &cobra.Command{
		Use:   "list",
		Short: "List users",
		RunE: run(func(cmd *cobra.Command, a *app, args []string) error {
			s, err := a.store.Load()
			if err != nil {
				return err
			}
			switch status {
			case "", "all":
				filter.Status = api.StatusAll
			case "enabled":
				filter.Status = api.StatusEnabled
			case "disabled":
				filter.Status = api.StatusDisabled
			default:
				return fmt.Errorf("unknown status %q (all, enabled, disabled)", status)
			}

			ctx, cancel := context.WithTimeout(cmd.Context(), requestTimeout)
			defer cancel()
			page, err := a.client.FindUsers(ctx, s, filter)
			if err != nil {
				return err
			}
			if len(page.Users) == 0 {
				fmt.Println(dimStyle.Render("No users found."))
				return nil
			}
			for _, u := range page.Users {
				state := successStyle.Render("enabled")
				if u.Disabled {
					state = errorStyle.Render("disabled")
				}
				fmt.Printf("  %-36s %-24s %-20s %s\n", u.ID, u.Name, u.UserName, state)
			}
			fmt.Println(dimStyle.Render(fmt.Sprintf("page %d of %d, %d users", page.Page, page.TotalPages, page.TotalCount)))
			return nil
		}),
	}
	list.Flags().StringVar(&filter.Name, "name", "", "filter by name")
	list.Flags().StringVar(&filter.UserName, "username", "", "filter by user name")
	list.Flags().StringVar(&status, "status", "all", "all, enabled or disabled")
	list.Flags().IntVar(&filter.Page, "page", 1, "page number")
	list.Flags().IntVar(&filter.PageSize, "page-size", api.DefaultPageSize, "users per page")

	var nu api.NewUser
	var role string
	add := &cobra.Command{
		Use:   "add",
		Short: "Register a user",
		RunE: run(func(cmd *cobra.Command, a *app, args []string) error {
			s, err := a.store.Load()
			if err != nil {
				return err
			}
			nu.UserType = session.Role(role)
			ctx, cancel := context.WithTimeout(cmd.Context(), requestTimeout)
			defer cancel()
			u, err := a.client.RegisterUser(ctx, s, nu)
			if err != nil {
				return err
			}
			fmt.Println(successStyle.Render("✓ Registered " + u.UserName))
			return nil
		}),
	}
	add.Flags().StringVar(&nu.Name, "name", "", "display name")
	add.Flags().StringVar(&nu.UserName, "username", "", "login name")
	add.Flags().StringVar(&nu.Password, "password", "", "initial password")
	add.Flags().StringVar(&role, "role", string(session.RoleUser), "admin or user")

	var name, password string
	update := &cobra.Command{
		Use:   "update [id]",
		Short: "Change a user's name or password",
		Args:  cobra.ExactArgs(1),
		RunE: run(func(cmd *cobra.Command, a *app, args []string) error {
			s, err := a.store.Load()
			if err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), requestTimeout)
			defer cancel()
			if err := a.client.UpdateUser(ctx, s, args[0], name, password); err != nil {
				return err
			}
			fmt.Println(successStyle.Render("✓ Updated " + args[0]))
			return nil
		}),
	}
	update.Flags().StringVar(&name, "name", "", "new display name")
	update.Flags().StringVar(&password, "password", "", "new password")

	cmd.AddCommand(list, add, update, toggleUserCmd(true), toggleUserCmd(false))
	return cmd
}

func toggleUserCmd(enable bool) *cobra.Command {
	use, id := "disable", messages.UserDisabled
	if enable {
		use, id = "enable", messages.UserEnabled
	}
	return &cobra.Command{
		Use:   use + " [id]",
		Short: strings.ToUpper(use[:1]) + use[1:] + " a user",
		Args:  cobra.ExactArgs(1),
		RunE: run(func(cmd *cobra.Command, a *app, args []string) error {
			s, err := a.store.Load()
			if err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), requestTimeout)
			defer cancel()
			if enable {
				err = a.client.EnableUser(ctx, s, args[0])
			} else {
				err = a.client.DisableUser(ctx, s, args[0])
			}
			if err != nil {
				return err
			}
			fmt.Println(successStyle.Render("✓ " + messages.Get(a.locale, id)))
			return nil
		}),
	}
}

func passwordCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "password",
		Short: "Change your own password",
		RunE: run(func(cmd *cobra.Command, a *app, args []string) error {
			s, err := a.store.Load()
			if err != nil {
				return err
			}
			password, err := promptPassword("New password: ")
			if err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), requestTimeout)
			defer cancel()
			if err := a.client.ChangePassword(ctx, s, password); err != nil {
				return err
			}
			fmt.Println(successStyle.Render("✓ " + messages.Get(a.locale, messages.PasswordChanged)))
			return nil
		}),
	}
}

func devicesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "devices",
		Short: "List cameras",
		RunE: run(func(cmd *cobra.Command, a *app, args []string) error {
			ctx, cancel := context.WithTimeout(cmd.Context(), requestTimeout)
			defer cancel()
			devices, err := a.manager().ScanDevices(ctx)
			if err != nil {
				return err
			}
			if len(devices) == 0 {
				fmt.Println(dimStyle.Render("No cameras found."))
				return nil
			}
			for _, d := range devices {
				facing := string(d.Facing)
				if facing == "" {
					facing = "-"
				}
				fmt.Printf("  %-4s %-24s %-8s %s\n", d.ID, d.Name, d.DeviceType, facing)
			}
			return nil
		}),
	}
}

// readImageFile loads an upload as is, typed by its content.
func readImageFile(path string) (*capture.File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("error reading image: %w", err)
	}
	mimeType := http.DetectContentType(data)
	if !strings.HasPrefix(mimeType, "image/") {
		return nil, fmt.Errorf("%s is not an image (%s)", path, mimeType)
	}
	return &capture.File{Name: filepath.Base(path), MIMEType: mimeType, Data: data}, nil
}

var stdin = bufio.NewReader(os.Stdin)

func prompt(label string) string {
	fmt.Print(label)
	line, _ := stdin.ReadString('\n')
	return strings.TrimSpace(line)
}

// promptPassword reads without echo on a terminal. Piped stdin is read as a
// plain line.
func promptPassword(label string) (string, error) {
	return readPassword(os.Stdin, label)
}

func readPassword(f *os.File, label string) (string, error) {
	fmt.Print(label)
	fd := int(f.Fd())
	if term.IsTerminal(fd) {
		password, err := term.ReadPassword(fd)
		fmt.Println()
		if err != nil {
			return "", fmt.Errorf("error reading password: %w", err)
		}
		return string(password), nil
	}

	r := stdin
	if f != os.Stdin {
		r = bufio.NewReader(f)
	}
	line, err := r.ReadString('\n')
	if err != nil && (!errors.Is(err, io.EOF) || line == "") {
		return "", fmt.Errorf("error reading password: %w", err)
	}
	return strings.TrimRight(line, "\r\n"), nil
}
