package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/sells-group/leadgate/internal/model"
	"github.com/sells-group/leadgate/internal/store"
)

var buyerCmd = &cobra.Command{
	Use:   "buyer",
	Short: "Manage lead buyers",
}

var (
	buyerName     string
	buyerType     string
	buyerWebhook  string
	buyerEmail    string
	buyerPrice    float64
	buyerCoverage []string
	buyerInactive bool
)

var buyerAddCmd = &cobra.Command{
	Use:   "add",
	Short: "Register a buyer",
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := cfg.Validate("buyer"); err != nil {
			return err
		}

		st, err := initStore(cmd.Context())
		if err != nil {
			return err
		}
		defer st.Close()

		buyer := &model.Buyer{
			Name:         buyerName,
			DeliveryType: model.DeliveryType(strings.ToUpper(buyerType)),
			WebhookURL:   buyerWebhook,
			Email:        buyerEmail,
			PricePerLead: buyerPrice,
			Coverage:     buyerCoverage,
			IsActive:     !buyerInactive,
		}
		if err := checkBuyer(buyer); err != nil {
			return err
		}

		created, err := st.CreateBuyer(cmd.Context(), buyer)
		if err != nil {
			return err
		}
		zap.L().Info("buyer registered",
			zap.String("id", created.ID),
			zap.String("name", created.Name),
		)
		fmt.Println(created.ID)
		return nil
	},
}

var buyerListCmd = &cobra.Command{
	Use:   "list",
	Short: "List registered buyers in routing order",
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := cfg.Validate("buyer"); err != nil {
			return err
		}

		st, err := initStore(cmd.Context())
		if err != nil {
			return err
		}
		defer st.Close()

		buyers, err := st.ListBuyers(cmd.Context(), store.BuyerFilter{})
		if err != nil {
			return err
		}

		for _, b := range buyers {
			coverage := "all"
			if len(b.Coverage) > 0 {
				coverage = strings.Join(b.Coverage, ",")
			}
			state := "active"
			if !b.IsActive {
				state = "inactive"
			}
			fmt.Printf("%s\t%s\t%s\t%s\t%s\n", b.ID, b.Name, b.DeliveryType, coverage, state)
		}
		return nil
	},
}

var buyerActiveCmd = &cobra.Command{
	Use:   "set-active <id> <true|false>",
	Short: "Enable or disable a buyer for routing",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := cfg.Validate("buyer"); err != nil {
			return err
		}

		active := args[1] == "true"
		st, err := initStore(cmd.Context())
		if err != nil {
			return err
		}
		defer st.Close()

		if err := st.SetBuyerActive(cmd.Context(), args[0], active); err != nil {
			return err
		}
		zap.L().Info("buyer updated", zap.String("id", args[0]), zap.Bool("active", active))
		return nil
	},
}

// buyerFile is the yaml import format.
type buyerFile struct {
	Buyers []struct {
		Name         string   `yaml:"name"`
		DeliveryType string   `yaml:"delivery_type"`
		WebhookURL   string   `yaml:"webhook_url"`
		Email        string   `yaml:"email"`
		PricePerLead float64  `yaml:"price_per_lead"`
		Coverage     []string `yaml:"coverage"`
		Active       *bool    `yaml:"active"`
	} `yaml:"buyers"`
}

var buyerImportCmd = &cobra.Command{
	Use:   "import <file.yaml>",
	Short: "Register buyers from a yaml file",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := cfg.Validate("buyer"); err != nil {
			return err
		}

		data, err := os.ReadFile(args[0])
		if err != nil {
			return eris.Wrap(err, "read buyer file")
		}
		var file buyerFile
		if err := yaml.Unmarshal(data, &file); err != nil {
			return eris.Wrap(err, "parse buyer file")
		}
		if len(file.Buyers) == 0 {
			return eris.New("buyer file lists no buyers")
		}

		st, err := initStore(cmd.Context())
		if err != nil {
			return err
		}
		defer st.Close()

		for _, entry := range file.Buyers {
			buyer := &model.Buyer{
				Name:         entry.Name,
				DeliveryType: model.DeliveryType(strings.ToUpper(entry.DeliveryType)),
				WebhookURL:   entry.WebhookURL,
				Email:        entry.Email,
				PricePerLead: entry.PricePerLead,
				Coverage:     entry.Coverage,
				IsActive:     entry.Active == nil || *entry.Active,
			}
			if err := checkBuyer(buyer); err != nil {
				return eris.Wrapf(err, "buyer %q", entry.Name)
			}
			created, err := st.CreateBuyer(cmd.Context(), buyer)
			if err != nil {
				return err
			}
			zap.L().Info("buyer imported",
				zap.String("id", created.ID),
				zap.String("name", created.Name),
			)
		}
		return nil
	},
}

func checkBuyer(b *model.Buyer) error {
	if b.Name == "" {
		return eris.New("buyer name is required")
	}
	switch b.DeliveryType {
	case model.DeliveryWebhook:
		if b.WebhookURL == "" {
			return eris.New("webhook buyers need a webhook url")
		}
	case model.DeliveryEmail:
		if b.Email == "" {
			return eris.New("email buyers need an email address")
		}
	default:
		return eris.Errorf("unknown delivery type: %s", b.DeliveryType)
	}
	return nil
}

func init() {
	buyerAddCmd.Flags().StringVar(&buyerName, "name", "", "buyer name (required)")
	buyerAddCmd.Flags().StringVar(&buyerType, "type", "webhook", "delivery type: webhook or email")
	buyerAddCmd.Flags().StringVar(&buyerWebhook, "webhook-url", "", "webhook endpoint")
	buyerAddCmd.Flags().StringVar(&buyerEmail, "email", "", "delivery email address")
	buyerAddCmd.Flags().Float64Var(&buyerPrice, "price", 0, "price per lead")
	buyerAddCmd.Flags().StringSliceVar(&buyerCoverage, "coverage", nil, "zip and state codes accepted (empty accepts all)")
	buyerAddCmd.Flags().BoolVar(&buyerInactive, "inactive", false, "register without enabling routing")
	_ = buyerAddCmd.MarkFlagRequired("name")

	buyerCmd.AddCommand(buyerAddCmd, buyerListCmd, buyerActiveCmd, buyerImportCmd)
	rootCmd.AddCommand(buyerCmd)
}
