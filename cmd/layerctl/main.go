// Command layerctl is the operator CLI.
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/Shivanand-hulikatti/layergate/internal/cipher"
	"github.com/Shivanand-hulikatti/layergate/internal/cli"
	"github.com/Shivanand-hulikatti/layergate/internal/config"
	"github.com/Shivanand-hulikatti/layergate/internal/database"
	"github.com/Shivanand-hulikatti/layergate/internal/logger"
	"github.com/Shivanand-hulikatti/layergate/internal/notify"
	"github.com/Shivanand-hulikatti/layergate/internal/passcode"
	"github.com/Shivanand-hulikatti/layergate/internal/repository"
	"github.com/Shivanand-hulikatti/layergate/internal/service"
)

// backend serves the CLI straight from the services.
type backend struct {
	*service.AdmissionService
	*service.CipherService
	pool *pgxpool.Pool
}

func (b *backend) Migrate(ctx context.Context) error {
	return database.Migrate(ctx, b.pool)
}

func connect(ctx context.Context) (cli.Backend, func(), error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, err
	}
	log, err := logger.New(cfg)
	if err != nil {
		return nil, nil, err
	}
	pool, err := database.NewPool(ctx, cfg.Database, log)
	if err != nil {
		return nil, nil, err
	}
	sealer, err := cipher.NewSealer(cfg.Cipher.SealingKey)
	if err != nil {
		pool.Close()
		return nil, nil, err
	}

	store := repository.New(pool)
	members := service.NewMemberService(store, store)
	b := &backend{
		AdmissionService: service.NewAdmissionService(store, store, store, members,
			passcode.NewSigner(cfg.PassSigningKey), notify.NewLog(log), log),
		CipherService: service.NewCipherService(store, cfg.Cipher.Policy(), sealer, log),
		pool:          pool,
	}
	release := func() {
		pool.Close()
		_ = log.Sync()
	}
	log.Debug("layerctl connected", zap.String("db", cfg.Database.Name))
	return b, release, nil
}

func main() {
	if err := cli.NewRootCommand(connect).ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
