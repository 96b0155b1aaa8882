package cmd

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/charmbracelet/huh"
	"github.com/mattn/go-runewidth"
	"github.com/spf13/cobra"

	"github.com/qbloq/agentico/internal/config"
	"github.com/qbloq/agentico/internal/model"
)

func tenantCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "tenant",
		Short: "Manage tenant onboarding",
	}
	cmd.AddCommand(tenantOnboardCmd())
	cmd.AddCommand(tenantListCmd())
	return cmd
}

func tenantOnboardCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "onboard",
		Short: "Interactively onboard a new tenant",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTenantOnboard()
		},
	}
}

func runTenantOnboard() error {
	cfg, err := config.Load(resolveConfigPath())
	if err != nil {
		return err
	}
	d, err := buildDeps(cfg)
	if err != nil {
		return err
	}
	defer closeDeps(context.Background(), d)

	var (
		tenantID        string
		namespace       string
		stateMachine    string
		channelKind     string
		channelID       string
		accessToken     string
		debounceEnabled bool
		debounceSeconds string = "8"
		escalateEnabled bool
		escalateTo      string
	)

	form := huh.NewForm(
		huh.NewGroup(
			huh.NewInput().Title("Tenant ID").Description("slug used internally, e.g. acme-sales").Value(&tenantID),
			huh.NewInput().Title("Namespace").Description("store partition key").Value(&namespace),
			huh.NewInput().Title("Active state machine name").Value(&stateMachine),
		),
		huh.NewGroup(
			huh.NewSelect[string]().
				Title("Channel kind").
				Options(
					huh.NewOption(string(model.ChannelWhatsApp), string(model.ChannelWhatsApp)),
					huh.NewOption(string(model.ChannelTelegram), string(model.ChannelTelegram)),
					huh.NewOption(string(model.ChannelDiscord), string(model.ChannelDiscord)),
				).
				Value(&channelKind),
			huh.NewInput().Title("Channel endpoint id").Description("phone number id / bot username").Value(&channelID),
			huh.NewInput().Title("Access token").EchoMode(huh.EchoModePassword).Value(&accessToken),
		),
		huh.NewGroup(
			huh.NewConfirm().Title("Enable debounce buffering?").Value(&debounceEnabled),
			huh.NewInput().Title("Debounce delay (seconds)").Value(&debounceSeconds),
			huh.NewConfirm().Title("Enable escalation?").Value(&escalateEnabled),
			huh.NewInput().Title("Escalation notify target").Value(&escalateTo),
		),
	)

	if err := form.Run(); err != nil {
		return fmt.Errorf("onboarding form: %w", err)
	}

	delaySeconds, err := strconv.Atoi(strings.TrimSpace(debounceSeconds))
	if err != nil {
		return fmt.Errorf("invalid debounce delay: %w", err)
	}

	tenantCfg := &model.TenantConfig{
		ID:                 tenantID,
		Namespace:          namespace,
		ActiveStateMachine: stateMachine,
		LLMProvider:        cfg.LLM.Provider,
		DebounceEnabled:    debounceEnabled,
		DebounceDelay:      time.Duration(delaySeconds) * time.Second,
		EscalationEnabled:  escalateEnabled,
		EscalationNotifyTo: escalateTo,
		BusinessMetadata:   map[string]string{},
		RateLimitRPS:        5,
		RateLimitBurst:      10,
		ChannelCredentials: map[model.ChannelKind]model.ChannelCredential{
			model.ChannelKind(channelKind): {
				Kind:        model.ChannelKind(channelKind),
				ChannelID:   channelID,
				AccessToken: accessToken,
			},
		},
	}

	ctx := context.Background()
	if err := d.stores.Tenants.Upsert(ctx, tenantCfg); err != nil {
		return fmt.Errorf("save tenant: %w", err)
	}

	fmt.Printf("tenant %q onboarded on channel %s (%s)\n", tenantID, channelKind, channelID)
	return nil
}

func tenantListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List onboarded tenants",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTenantList()
		},
	}
}

func runTenantList() error {
	cfg, err := config.Load(resolveConfigPath())
	if err != nil {
		return err
	}
	d, err := buildDeps(cfg)
	if err != nil {
		return err
	}
	defer closeDeps(context.Background(), d)

	tenants, err := d.stores.Tenants.ListActive(context.Background())
	if err != nil {
		return fmt.Errorf("list tenants: %w", err)
	}

	rows := [][]string{{"ID", "NAMESPACE", "STATE MACHINE", "CHANNELS", "DEBOUNCE"}}
	for _, t := range tenants {
		kinds := make([]string, 0, len(t.ChannelCredentials))
		for k := range t.ChannelCredentials {
			kinds = append(kinds, string(k))
		}
		debounce := "off"
		if t.DebounceEnabled {
			debounce = t.DebounceDelay.String()
		}
		rows = append(rows, []string{t.ID, t.Namespace, t.ActiveStateMachine, strings.Join(kinds, ","), debounce})
	}

	printTable(os.Stdout, rows)
	return nil
}

// printTable renders a left-aligned, rune-width-aware table, since
// tenant ids and namespaces may contain multi-byte characters that a
// plain byte-length pad would misalign.
func printTable(w *os.File, rows [][]string) {
	if len(rows) == 0 {
		return
	}
	cols := len(rows[0])
	widths := make([]int, cols)
	for _, row := range rows {
		for i, cell := range row {
			if width := runewidth.StringWidth(cell); width > widths[i] {
				widths[i] = width
			}
		}
	}

	for _, row := range rows {
		var b strings.Builder
		for i, cell := range row {
			b.WriteString(cell)
			if i < cols-1 {
				b.WriteString(strings.Repeat(" ", widths[i]-runewidth.StringWidth(cell)+2))
			}
		}
		fmt.Fprintln(w, b.String())
	}
}
