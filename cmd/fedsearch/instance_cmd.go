package main

import (
	"errors"
	"fmt"
	"io"
	"net/url"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/fedsearch/fedsearch-go/internal/cli/output"
	"github.com/fedsearch/fedsearch-go/internal/config"
	"github.com/fedsearch/fedsearch-go/internal/instance"
	"github.com/fedsearch/fedsearch-go/internal/oauth"
	"github.com/fedsearch/fedsearch-go/internal/storage"
)

var (
	// Credential flags shared by add and refresh
	instanceClientID     string
	instanceClientSecret string
	instanceUsername     string
	instancePassword     string
	instanceTimeout      int
	instancePrivate      bool

	instanceShowTokens bool
	instanceFetchOut   string
)

func newInstanceCmd() *cobra.Command {
	instanceCmd := &cobra.Command{
		Use:   "instance",
		Short: "Manage remote instances",
		Long: `Commands for registering remote instances and managing their tokens.

They open the local database directly, so stop a running server first or
use the REST API instead.`,
	}

	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List registered instances",
		Args:  cobra.NoArgs,
		RunE:  runInstanceList,
	}
	listCmd.Flags().BoolVar(&instanceShowTokens, "show-tokens", false, "Print tokens in clear text")

	getCmd := &cobra.Command{
		Use:   "get <name|id>",
		Short: "Show one instance",
		Args:  cobra.ExactArgs(1),
		RunE:  runInstanceGet,
	}
	getCmd.Flags().BoolVar(&instanceShowTokens, "show-tokens", false, "Print tokens in clear text")

	addCmd := &cobra.Command{
		Use:   "add <name> <endpoint>",
		Short: "Register a remote instance",
		Long: `Register a remote instance. With --private the remote's token endpoint is
asked for an access token first and nothing is stored if it refuses.

Examples:
  fedsearch instance add Public https://public.example.com
  fedsearch instance add Partner https://partner.example.com --private \
    --client-id ID --client-secret '${env:PARTNER_SECRET}' \
    --username alice --password '${keyring:partner-password}' --timeout 5

Credential flags accept ${env:NAME} and ${keyring:NAME} references.`,
		Args: cobra.ExactArgs(2),
		RunE: runInstanceAdd,
	}
	addCmd.Flags().BoolVar(&instancePrivate, "private", false, "Obtain tokens with the password grant")
	addCmd.Flags().StringVar(&instanceUsername, "username", "", "Account on the remote instance")
	addCmd.Flags().StringVar(&instancePassword, "password", "", "Password of the remote account")
	addCredentialFlags(addCmd)

	renameCmd := &cobra.Command{
		Use:   "rename <name|id> <new-name>",
		Short: "Rename an instance",
		Args:  cobra.ExactArgs(2),
		RunE:  runInstanceRename,
	}

	refreshCmd := &cobra.Command{
		Use:   "refresh <name|id>",
		Short: "Renew the tokens of an instance",
		Args:  cobra.ExactArgs(1),
		RunE:  runInstanceRefresh,
	}
	addCredentialFlags(refreshCmd)

	deleteCmd := &cobra.Command{
		Use:   "delete <name|id>",
		Short: "Delete an instance",
		Args:  cobra.ExactArgs(1),
		RunE:  runInstanceDelete,
	}

	fetchCmd := &cobra.Command{
		Use:   "fetch <url>",
		Short: "Fetch a resource from the instance that hosts it",
		Long: `Fetch a resource with the access token of the instance whose endpoint
owns the URL. The body is written to stdout unless --out is given.`,
		Args: cobra.ExactArgs(1),
		RunE: runInstanceFetch,
	}
	fetchCmd.Flags().StringVar(&instanceFetchOut, "out", "", "Write the body to this file")

	instanceCmd.AddCommand(listCmd, getCmd, addCmd, renameCmd, refreshCmd, deleteCmd, fetchCmd)
	return instanceCmd
}

func addCredentialFlags(cmd *cobra.Command) {
	cmd.Flags().StringVar(&instanceClientID, "client-id", "", "OAuth2 client id on the remote instance")
	cmd.Flags().StringVar(&instanceClientSecret, "client-secret", "", "OAuth2 client secret on the remote instance")
	cmd.Flags().IntVar(&instanceTimeout, "timeout", 0, "Token request timeout in seconds (default from config)")
}

// instanceEnv is what every instance subcommand needs
type instanceEnv struct {
	cfg     *config.Config
	logger  *zap.Logger
	db      *storage.BoltDB
	service *instance.Service
}

func openInstanceEnv(cmd *cobra.Command) (*instanceEnv, error) {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return nil, err
	}
	logger, err := setupLogger(cmd, cfg, false)
	if err != nil {
		return nil, err
	}
	db, err := storage.NewBoltDB(cfg.DataDir, logger.Sugar())
	if err != nil {
		if errors.Is(err, storage.ErrDatabaseLocked) {
			return nil, fmt.Errorf("%w (stop the running server or use the REST API)", err)
		}
		return nil, err
	}
	return &instanceEnv{
		cfg:     cfg,
		logger:  logger,
		db:      db,
		service: newService(cfg, db, logger, nil),
	}, nil
}

func (e *instanceEnv) Close() {
	_ = e.db.Close()
	_ = e.logger.Sync()
}

// resolve finds an instance by id or exact name
func (e *instanceEnv) resolve(ref string) (*instance.Instance, error) {
	if _, err := uuid.Parse(ref); err == nil {
		inst, err := e.service.GetByID(ref)
		if err == nil || !errors.Is(err, instance.ErrDoesNotExist) {
			return inst, err
		}
	}
	return e.service.GetByName(ref)
}

// timeout returns the --timeout flag, or the configured default
func (e *instanceEnv) timeout(cmd *cobra.Command) (time.Duration, error) {
	if !cmd.Flags().Changed("timeout") {
		return e.cfg.DefaultTimeoutDuration(), nil
	}
	if instanceTimeout < 1 || instanceTimeout > e.cfg.MaxTimeout {
		return 0, output.NewStructuredError(output.ErrCodeInvalidInput,
			fmt.Sprintf("--timeout must be between 1 and %d seconds", e.cfg.MaxTimeout))
	}
	return time.Duration(instanceTimeout) * time.Second, nil
}

func runInstanceList(cmd *cobra.Command, _ []string) error {
	env, err := openInstanceEnv(cmd)
	if err != nil {
		return err
	}
	defer env.Close()

	instances, err := env.service.GetAll()
	if err != nil {
		return toCLIError(err)
	}
	sort.Slice(instances, func(i, j int) bool { return instances[i].Name < instances[j].Name })

	views := make(instanceTable, 0, len(instances))
	for _, inst := range instances {
		views = append(views, newInstanceView(inst, instanceShowTokens))
	}
	return render(cmd, views)
}

func runInstanceGet(cmd *cobra.Command, args []string) error {
	env, err := openInstanceEnv(cmd)
	if err != nil {
		return err
	}
	defer env.Close()

	inst, err := env.resolve(args[0])
	if err != nil {
		return toCLIError(err)
	}
	return render(cmd, newInstanceView(inst, instanceShowTokens))
}

func runInstanceAdd(cmd *cobra.Command, args []string) error {
	env, err := openInstanceEnv(cmd)
	if err != nil {
		return err
	}
	defer env.Close()

	req := instance.RegisterRequest{
		Name:      args[0],
		Endpoint:  args[1],
		IsPrivate: instancePrivate,
	}
	if instancePrivate {
		if missing := missingFlags(cmd, "client-id", "client-secret", "username", "password"); len(missing) > 0 {
			return output.NewStructuredError(output.ErrCodeInvalidInput,
				"--private requires "+strings.Join(missing, ", "))
		}
		if req.Timeout, err = env.timeout(cmd); err != nil {
			return err
		}
		req.ClientID = instanceClientID
		req.ClientSecret = instanceClientSecret
		req.Username = instanceUsername
		req.Password = instancePassword
		if err := expandSecrets(cmd.Context(), &req.ClientID, &req.ClientSecret, &req.Username, &req.Password); err != nil {
			return err
		}
	}

	inst, err := env.service.Register(cmd.Context(), req)
	if err != nil {
		return toCLIError(err)
	}
	return render(cmd, newInstanceView(inst, false))
}

func runInstanceRename(cmd *cobra.Command, args []string) error {
	env, err := openInstanceEnv(cmd)
	if err != nil {
		return err
	}
	defer env.Close()

	inst, err := env.resolve(args[0])
	if err != nil {
		return toCLIError(err)
	}

	name := strings.TrimSpace(args[1])
	if err := instance.ValidateName(name, env.service.ReservedName()); err != nil {
		return toCLIError(err)
	}
	renamed, err := env.service.Rename(inst.ID, name)
	if err != nil {
		return toCLIError(err)
	}
	return render(cmd, newInstanceView(renamed, false))
}

func runInstanceRefresh(cmd *cobra.Command, args []string) error {
	env, err := openInstanceEnv(cmd)
	if err != nil {
		return err
	}
	defer env.Close()

	if missing := missingFlags(cmd, "client-id", "client-secret"); len(missing) > 0 {
		return output.NewStructuredError(output.ErrCodeInvalidInput,
			"refresh requires "+strings.Join(missing, ", "))
	}
	timeout, err := env.timeout(cmd)
	if err != nil {
		return err
	}

	clientID, clientSecret := instanceClientID, instanceClientSecret
	if err := expandSecrets(cmd.Context(), &clientID, &clientSecret); err != nil {
		return err
	}

	inst, err := env.resolve(args[0])
	if err != nil {
		return toCLIError(err)
	}
	refreshed, err := env.service.Refresh(cmd.Context(), inst, clientID, clientSecret, timeout)
	if err != nil {
		return toCLIError(err)
	}
	return render(cmd, newInstanceView(refreshed, false))
}

func runInstanceDelete(cmd *cobra.Command, args []string) error {
	env, err := openInstanceEnv(cmd)
	if err != nil {
		return err
	}
	defer env.Close()

	inst, err := env.resolve(args[0])
	if err != nil {
		return toCLIError(err)
	}
	if err := env.service.Delete(inst); err != nil {
		return toCLIError(err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Deleted instance %q\n", inst.Name)
	return nil
}

func runInstanceFetch(cmd *cobra.Command, args []string) error {
	env, err := openInstanceEnv(cmd)
	if err != nil {
		return err
	}
	defer env.Close()

	u, err := url.Parse(args[0])
	if err != nil || u.Scheme == "" || u.Host == "" {
		return output.NewStructuredError(output.ErrCodeInvalidInput, fmt.Sprintf("%q is not an absolute URL", args[0]))
	}

	resp, err := env.service.DelegateFetch(cmd.Context(), u.Scheme+"://"+u.Host, args[0])
	if err != nil {
		return toCLIError(err)
	}
	if resp == nil {
		return output.NewStructuredError(output.ErrCodeInstanceNotFound,
			"no registered instance serves "+oauth.RedactURL(args[0]))
	}
	defer resp.Body.Close()

	var w io.Writer = cmd.OutOrStdout()
	if instanceFetchOut != "" {
		f, err := os.Create(instanceFetchOut)
		if err != nil {
			return err
		}
		defer f.Close()
		w = f
	}
	if _, err := io.Copy(w, resp.Body); err != nil {
		return fmt.Errorf("failed to read remote response: %w", err)
	}
	if resp.StatusCode >= 400 {
		return output.NewStructuredError(output.ErrCodeOperationFailed,
			fmt.Sprintf("remote answered %s", resp.Status))
	}
	return nil
}

// missingFlags lists the named flags that were left empty
func missingFlags(cmd *cobra.Command, names ...string) []string {
	var missing []string
	for _, name := range names {
		if f := cmd.Flags().Lookup(name); f == nil || strings.TrimSpace(f.Value.String()) == "" {
			missing = append(missing, "--"+name)
		}
	}
	return missing
}

// toCLIError converts an instance error into a structured CLI error
func toCLIError(err error) error {
	code := output.ErrCodeOperationFailed
	switch {
	case errors.Is(err, instance.ErrDoesNotExist):
		code = output.ErrCodeInstanceNotFound
	case errors.Is(err, instance.ErrNotUnique):
		code = output.ErrCodeNotUnique
	case errors.Is(err, instance.ErrAPI):
		code = output.ErrCodeAccessDenied
	case errors.Is(err, instance.ErrModel):
		code = output.ErrCodeInvalidInput
	}
	return output.NewStructuredError(code, instance.Message(err))
}

func render(cmd *cobra.Command, data interface{}) error {
	formatter, err := output.NewFormatter(output.ResolveFormat(outputFormat))
	if err != nil {
		return err
	}
	text, err := formatter.Format(data)
	if err != nil {
		return err
	}
	_, err = fmt.Fprint(cmd.OutOrStdout(), text)
	return err
}

// instanceView is the printable form of an instance. Tokens are masked
// unless explicitly requested.
type instanceView struct {
	ID           string     `json:"id" yaml:"id"`
	Name         string     `json:"name" yaml:"name"`
	Endpoint     string     `json:"endpoint" yaml:"endpoint"`
	Private      bool       `json:"private" yaml:"private"`
	AccessToken  string     `json:"access_token,omitempty" yaml:"access_token,omitempty"`
	RefreshToken string     `json:"refresh_token,omitempty" yaml:"refresh_token,omitempty"`
	Expires      *time.Time `json:"expires,omitempty" yaml:"expires,omitempty"`
}

func newInstanceView(inst *instance.Instance, showTokens bool) instanceView {
	v := instanceView{
		ID:           inst.ID,
		Name:         inst.Name,
		Endpoint:     inst.Endpoint,
		Private:      inst.HasCredentials(),
		AccessToken:  inst.AccessToken,
		RefreshToken: inst.RefreshToken,
		Expires:      inst.Expires,
	}
	if !showTokens {
		if v.AccessToken != "" {
			v.AccessToken = oauth.MaskSecret(v.AccessToken)
		}
		if v.RefreshToken != "" {
			v.RefreshToken = oauth.MaskSecret(v.RefreshToken)
		}
	}
	return v
}

func (v instanceView) Headers() []string { return instanceTable{}.Headers() }
func (v instanceView) Rows() [][]string  { return instanceTable{v}.Rows() }

type instanceTable []instanceView

func (t instanceTable) Headers() []string {
	return []string{"NAME", "ENDPOINT", "PRIVATE", "EXPIRES", "ID"}
}

func (t instanceTable) Rows() [][]string {
	now := time.Now()
	rows := make([][]string, 0, len(t))
	for _, v := range t {
		expires := "-"
		if v.Expires != nil {
			expires = v.Expires.Local().Format(time.RFC3339)
			if v.Expires.Before(now) {
				expires += " (expired)"
			}
		}
		private := "no"
		if v.Private {
			private = "yes"
		}
		rows = append(rows, []string{v.Name, v.Endpoint, private, expires, v.ID})
	}
	return rows
}
