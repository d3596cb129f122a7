package cmd

import (
	"context"
	"fmt"
	"os/signal"
	"strings"
	"syscall"
	"time"

	internalApp "github.com/haierkeys/fast-board-sync/internal/app"
	"github.com/haierkeys/fast-board-sync/internal/docstore/remote"
	"github.com/haierkeys/fast-board-sync/internal/domain"
	"github.com/haierkeys/fast-board-sync/internal/service"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

type clientFlags struct {
	config  string
	server  string
	token   string
	board   string
	verbose bool
}

// clientSession the sync core running against a remote gateway
// clientSession 连接远程网关运行的同步核心
type clientSession struct {
	logger  *zap.Logger
	store   *remote.Store
	sync    *internalApp.SyncClient
	boardID string
}

// openClient dials the gateway, signs in and waits for an active board
// openClient 连接网关、登录并等待看板激活
func openClient(ctx context.Context, f *clientFlags) (*clientSession, error) {
	level := zapcore.WarnLevel
	if f.verbose {
		level = zapcore.DebugLevel
	}
	lg := newConsoleLogger(level)

	cfg, err := loadOptionalConfig(f.config)
	if err != nil {
		return nil, err
	}
	if f.server != "" {
		cfg.Client.ServerURL = f.server
	}
	if f.token != "" {
		cfg.Client.Token = f.token
	}
	if cfg.Client.Token == "" {
		return nil, errors.New("a token is required, see the token command")
	}

	store, err := remote.Dial(ctx, remote.Config{
		URL:            cfg.Client.ServerURL,
		Token:          cfg.Client.Token,
		RequestTimeout: cfg.GetRequestTimeout(),
	}, lg)
	if err != nil {
		return nil, err
	}

	s := &clientSession{logger: lg, store: store, sync: internalApp.NewSyncClient(cfg, store, lg)}
	if err := s.sync.SignIn(ctx, cfg.Client.Token); err != nil {
		s.Close()
		return nil, errors.Wrap(err, "sign in")
	}

	waitCtx, cancel := context.WithTimeout(ctx, cfg.GetRequestTimeout())
	defer cancel()
	boardID, err := s.sync.WaitActive(waitCtx)
	if err != nil {
		s.Close()
		return nil, errors.Wrap(err, "wait for board")
	}
	if f.board != "" && f.board != boardID {
		if err := s.sync.Boards.LoadBoard(ctx, f.board); err != nil {
			s.Close()
			return nil, errors.Wrapf(err, "load board %s", f.board)
		}
		boardID = f.board
	}
	s.boardID = boardID
	return s, nil
}

// Close flushes pending writes, then disconnects
// Close 刷新待写入数据后断开连接
func (s *clientSession) Close() {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := s.sync.Close(ctx); err != nil {
		s.logger.Warn("sync client close", zap.Error(err))
	}
	_ = s.store.Close()
}

// waitCard blocks until the cards snapshot carrying cardID arrived
// waitCard 阻塞直到包含 cardID 的卡片快照到达
func (s *clientSession) waitCard(ctx context.Context, cardID string) error {
	arrived := make(chan struct{}, 1)
	unsubscribe := s.sync.Cache.Cards.Subscribe(func(m map[string]domain.Card) {
		if _, ok := m[cardID]; ok {
			select {
			case arrived <- struct{}{}:
			default:
			}
		}
	})
	defer unsubscribe()
	if _, ok := s.sync.Cache.Cards.Get(cardID); ok {
		return nil
	}
	select {
	case <-arrived:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(10 * time.Second):
		return errors.Wrap(domain.ErrCardNotFound, cardID)
	}
}

func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
}

func printBoard(s *clientSession) {
	c := s.sync.Cache
	name := ""
	if b := c.Board.Get(); b != nil {
		name = b.Name
	}
	others := s.sync.Presence.OtherUsers()
	names := make([]string, 0, len(others))
	for _, p := range others {
		names = append(names, p.DisplayName)
	}
	fmt.Printf("[%s] board=%s name=%q cards=%d links=%d online=[%s] sync=%s\n",
		time.Now().Format(time.TimeOnly), s.sync.Boards.ActiveBoardID(), name,
		c.Cards.Len(), c.Links.Len(), strings.Join(names, ","), s.sync.Writer.Status())
}

func newClientCommand() *cobra.Command {
	f := new(clientFlags)

	clientCommand := &cobra.Command{
		Use:   "client",
		Short: "Run the board sync core against a gateway",
	}
	pf := clientCommand.PersistentFlags()
	pf.StringVarP(&f.config, "config", "c", "", "config file")
	pf.StringVarP(&f.server, "server", "s", "", "gateway url, overrides client.server-url")
	pf.StringVarP(&f.token, "token", "t", "", "identity token, overrides client.token")
	pf.StringVarP(&f.board, "board", "b", "", "board id, defaults to the first board of the user")
	pf.BoolVarP(&f.verbose, "verbose", "v", false, "debug logging")

	clientCommand.AddCommand(&cobra.Command{
		Use:   "watch",
		Short: "Print board changes until interrupted",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signalContext()
			defer stop()
			s, err := openClient(ctx, f)
			if err != nil {
				return err
			}
			defer s.Close()

			changed := make(chan struct{}, 1)
			notify := func() {
				select {
				case changed <- struct{}{}:
				default:
				}
			}
			defer s.sync.Cache.Cards.Subscribe(func(map[string]domain.Card) { notify() })()
			defer s.sync.Cache.Links.Subscribe(func(map[string]domain.Link) { notify() })()
			defer s.sync.Cache.Presence.Subscribe(func(map[string]domain.PresenceRecord) { notify() })()
			defer s.sync.Boards.OnStateChange(func(domain.BoardState) { notify() })()

			printBoard(s)
			for {
				select {
				case <-ctx.Done():
					return nil
				case <-s.store.Done():
					return errors.New("gateway connection lost")
				case <-changed:
					printBoard(s)
				}
			}
		},
	})

	var (
		title    string
		cardType string
		x, y     float64
	)
	addCard := &cobra.Command{
		Use:   "add-card",
		Short: "Add a card to the board",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signalContext()
			defer stop()
			s, err := openClient(ctx, f)
			if err != nil {
				return err
			}
			defer s.Close()

			id, err := s.sync.Boards.HandleGesture(ctx, service.Gesture{
				Kind:     service.GestureCreateCard,
				Position: &domain.Position{X: x, Y: y},
			})
			if err != nil {
				return err
			}
			patch := domain.CardPatch{}
			if title != "" {
				patch.Title = &title
			}
			if cardType != "" {
				t := domain.CardType(cardType)
				patch.CardType = &t
			}
			if !patch.IsEmpty() {
				if err := s.waitCard(ctx, id); err != nil {
					return err
				}
				if err := s.sync.Boards.UpdateCard(id, patch); err != nil {
					return err
				}
			}
			fmt.Println(id)
			return nil
		},
	}
	addCard.Flags().StringVar(&title, "title", "", "card title")
	addCard.Flags().StringVar(&cardType, "type", "", "clue, person, location, event, theory or note")
	addCard.Flags().Float64Var(&x, "x", 0, "x position")
	addCard.Flags().Float64Var(&y, "y", 0, "y position")
	clientCommand.AddCommand(addCard)

	clientCommand.AddCommand(&cobra.Command{
		Use:   "share",
		Short: "Generate a share code for the board and print its link",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signalContext()
			defer stop()
			s, err := openClient(ctx, f)
			if err != nil {
				return err
			}
			defer s.Close()

			code, err := s.sync.Share.GenerateShareLink(ctx)
			if err != nil {
				return err
			}
			fmt.Println(s.sync.Share.ShareURL(code))
			return nil
		},
	})

	clientCommand.AddCommand(&cobra.Command{
		Use:   "join CODE",
		Short: "Join a board by share code",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signalContext()
			defer stop()
			s, err := openClient(ctx, f)
			if err != nil {
				return err
			}
			defer s.Close()

			boardID, err := s.sync.Share.JoinBoardByCode(ctx, args[0])
			if err != nil {
				return err
			}
			fmt.Println(boardID)
			return nil
		},
	})

	return clientCommand
}

func init() {
	rootCmd.AddCommand(newClientCommand())
}
