package main

import (
	"context"
	"encoding/base64"
	"encoding/hex"
	"fmt"

	"github.com/mr-tron/base58"
	"go.uber.org/zap"

	"github.com/KOMKZ/go-yogan-accountsync/accountsync"
	"github.com/KOMKZ/go-yogan-accountsync/config"
	"github.com/KOMKZ/go-yogan-accountsync/errdef"
	"github.com/KOMKZ/go-yogan-accountsync/health"
	"github.com/KOMKZ/go-yogan-accountsync/logger"
	"github.com/KOMKZ/go-yogan-accountsync/subscription"
	"github.com/KOMKZ/go-yogan-accountsync/telemetry"
	"github.com/KOMKZ/go-yogan-accountsync/validator"
)

// accountView is the printable form of an account.
type accountView struct {
	Type     string `json:"type,omitempty"`
	Size     int    `json:"size"`
	Encoding string `json:"encoding"`
	Data     string `json:"data"`
}

func viewDecoder(encoding string) (accountsync.Decoder[accountView], error) {
	var encode func([]byte) string
	switch encoding {
	case "", "base64":
		encoding, encode = "base64", base64.StdEncoding.EncodeToString
	case "base58":
		encode = base58.Encode
	case "hex":
		encode = hex.EncodeToString
	default:
		return nil, errdef.ErrInvalidArgument.WithMsgf("unknown encoding %q: want base64, base58 or hex", encoding)
	}
	return accountsync.DecoderFunc[accountView](func(accountType string, data []byte) (accountView, error) {
		return accountView{Type: accountType, Size: len(data), Encoding: encoding, Data: encode(data)}, nil
	}), nil
}

func parseCommitment(s string) (subscription.Commitment, error) {
	switch c := subscription.Commitment(s); c {
	case "", subscription.CommitmentProcessed, subscription.CommitmentConfirmed, subscription.CommitmentFinalized:
		return c, nil
	default:
		return "", errdef.ErrInvalidArgument.WithMsgf("unknown commitment %q", s)
	}
}

// app is one command's running engine.
type app struct {
	facade    *accountsync.Facade[accountView]
	telemetry *telemetry.Manager
	health    health.Config
	loggers   *logger.Manager
	log       *logger.CtxZapLogger
}

func openApp(ctx context.Context, ro rootOptions, encoding string) (*app, error) {
	decoder, err := viewDecoder(encoding)
	if err != nil {
		return nil, err
	}
	loader, err := config.NewLoaderBuilder().
		WithConfigPath(ro.ConfigDir).
		WithEnvPrefix(ro.EnvPrefix).
		Build()
	if err != nil {
		return nil, validator.ErrInvalidConfig.WithMsg("load configuration").Wrap(err)
	}
	cfg, err := accountsync.LoadConfig(loader)
	if err != nil {
		return nil, err
	}
	tcfg := telemetry.DefaultConfig()
	if err := optionalSection(loader, telemetry.ConfigKey, &tcfg); err != nil {
		return nil, err
	}
	hcfg := health.DefaultConfig()
	if err := optionalSection(loader, health.ConfigKey, &hcfg); err != nil {
		return nil, err
	}

	a := &app{health: hcfg, loggers: logger.NewManager(cfg.Logger)}
	a.log = a.loggers.GetLogger("cli")
	a.telemetry, err = telemetry.NewManager(tcfg, telemetry.WithLogger(a.loggers.GetLogger("telemetry")))
	if err != nil {
		a.loggers.CloseAll()
		return nil, err
	}
	if err := a.telemetry.Start(ctx); err != nil {
		a.loggers.CloseAll()
		return nil, err
	}

	opts := []accountsync.Option{
		accountsync.WithLoggerManager(a.loggers),
		accountsync.WithTracer(a.telemetry.Tracer("accountsync")),
	}
	if m := a.telemetry.Meter("accountsync"); m != nil {
		opts = append(opts, accountsync.WithMeter(m))
	}
	a.facade, err = accountsync.NewDefault(cfg, decoder, opts...)
	if err != nil {
		_ = a.telemetry.Shutdown(ctx)
		a.loggers.CloseAll()
		return nil, err
	}
	a.log.DebugCtx(ctx, "engine started",
		zap.Strings("config_files", loader.GetLoadedFiles()),
		zap.String("commitment", string(cfg.Commitment)))
	return a, nil
}

// optionalSection decodes key into out when the configuration sets it.
func optionalSection(loader *config.Loader, key string, out interface{}) error {
	if !loader.IsSet(key) {
		return nil
	}
	if err := loader.UnmarshalKey(key, out); err != nil {
		return validator.ErrInvalidConfig.WithMsgf("decode %s configuration", key).Wrap(err)
	}
	return nil
}

func (a *app) Close(ctx context.Context) error {
	a.facade.Shutdown()
	err := a.telemetry.Shutdown(ctx)
	if err != nil {
		err = fmt.Errorf("telemetry shutdown: %w", err)
	}
	a.loggers.CloseAll()
	return err
}

func fetchOpts(commitment subscription.Commitment, noCache bool) []accountsync.FetchOption {
	var opts []accountsync.FetchOption
	if commitment != "" {
		opts = append(opts, accountsync.WithCommitment(commitment))
	}
	if noCache {
		opts = append(opts, accountsync.NoCache())
	}
	return opts
}
