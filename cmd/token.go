package cmd

import (
	"fmt"

	internalApp "github.com/haierkeys/fast-board-sync/internal/app"
	"github.com/haierkeys/fast-board-sync/internal/domain"
	"github.com/haierkeys/fast-board-sync/internal/identity"
	"github.com/haierkeys/fast-board-sync/pkg/fileurl"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

type tokenFlags struct {
	config string
	uid    string
	name   string
	email  string
	avatar string
}

func init() {
	f := new(tokenFlags)

	tokenCommand := &cobra.Command{
		Use:   "token --uid USER [--name NAME] [-c config_file]",
		Short: "Issue an identity token signed with security.auth-token-key",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadOptionalConfig(f.config)
			if err != nil {
				return err
			}
			tokens := identity.NewTokenManager(cfg.GetTokenConfig())
			token, err := tokens.Generate(domain.Identity{
				UserID:      f.uid,
				DisplayName: f.name,
				Email:       f.email,
				AvatarURL:   f.avatar,
			})
			if err != nil {
				return err
			}
			bootstrapLogger.Debug("token issued", zap.String("uid", f.uid), zap.Duration("expiry", cfg.GetTokenExpiry()))
			fmt.Println(token)
			return nil
		},
	}

	rootCmd.AddCommand(tokenCommand)
	fs := tokenCommand.Flags()
	fs.StringVarP(&f.config, "config", "c", "", "config file")
	fs.StringVar(&f.uid, "uid", "", "user id")
	fs.StringVar(&f.name, "name", "", "display name")
	fs.StringVar(&f.email, "email", "", "email")
	fs.StringVar(&f.avatar, "avatar", "", "avatar url")
	_ = tokenCommand.MarkFlagRequired("uid")
}

// loadOptionalConfig loads path, or the first config found, or the defaults
// loadOptionalConfig 加载指定配置，找不到时使用默认配置
func loadOptionalConfig(path string) (*internalApp.AppConfig, error) {
	if path == "" {
		for _, candidate := range configCandidates {
			if fileurl.IsExist(candidate) {
				path = candidate
				break
			}
		}
	}
	if path == "" {
		bootstrapLogger.Debug("no config file, using defaults")
		return internalApp.DefaultConfig(), nil
	}
	cfg, realpath, err := internalApp.LoadConfig(path)
	if err != nil {
		return nil, err
	}
	bootstrapLogger.Debug("config loaded", zap.String("path", realpath))
	return cfg, nil
}
