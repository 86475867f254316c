package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	awss3 "github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/ssm"
	"github.com/gin-gonic/gin"
	"github.com/jonboulle/clockwork"
	"github.com/joho/godotenv"

	"github.com/ageniuscoder/mmchat/messaging/internal/auth"
	"github.com/ageniuscoder/mmchat/messaging/internal/blobstore"
	"github.com/ageniuscoder/mmchat/messaging/internal/blobstore/local"
	"github.com/ageniuscoder/mmchat/messaging/internal/blobstore/s3"
	"github.com/ageniuscoder/mmchat/messaging/internal/config"
	"github.com/ageniuscoder/mmchat/messaging/internal/conversations"
	"github.com/ageniuscoder/mmchat/messaging/internal/docstore"
	"github.com/ageniuscoder/mmchat/messaging/internal/docstore/dynamo"
	"github.com/ageniuscoder/mmchat/messaging/internal/docstore/firestore"
	"github.com/ageniuscoder/mmchat/messaging/internal/docstore/memory"
	"github.com/ageniuscoder/mmchat/messaging/internal/docstore/sqlstore"
	"github.com/ageniuscoder/mmchat/messaging/internal/gateway"
	"github.com/ageniuscoder/mmchat/messaging/internal/integrations/paramstore"
	"github.com/ageniuscoder/mmchat/messaging/internal/messages"
	"github.com/ageniuscoder/mmchat/messaging/internal/observability"
	"github.com/ageniuscoder/mmchat/messaging/internal/profile"
	"github.com/ageniuscoder/mmchat/messaging/internal/session"
	"github.com/ageniuscoder/mmchat/messaging/internal/storage/postgres"
	"github.com/ageniuscoder/mmchat/messaging/internal/storage/sqlite"
)

func main() {
	migrate := flag.Bool("migrate", false, "run migrations and exits")
	schemaDir := flag.String("schema", "sql", "directory holding sqlite/ and postgres/ schema files")
	issueToken := flag.String("issue-token", "", "print a development token for this user id and exit")
	flag.Parse()

	//config part
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		log.Fatalf("Error Loading Env file: %v", err)
	}
	cfg := config.MustLoad()
	logger := observability.Setup(cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var awsCfg *aws.Config
	loadAWS := func() aws.Config {
		if awsCfg == nil {
			c, err := awsconfig.LoadDefaultConfig(ctx)
			if err != nil {
				log.Fatalf("Error loading AWS config: %v", err)
			}
			awsCfg = &c
		}
		return *awsCfg
	}

	if cfg.JWTSecretParam != "" {
		ps, err := paramstore.New(ssm.NewFromConfig(loadAWS()))
		if err != nil {
			log.Fatalf("Error creating parameter store client: %v", err)
		}
		secret, err := ps.Secret(ctx, cfg.JWTSecretParam)
		if err != nil {
			log.Fatalf("Error reading JWT secret: %v", err)
		}
		cfg.JWTSecret = secret
	}
	if err := cfg.Validate(); err != nil {
		log.Fatal(err)
	}

	if *issueToken != "" {
		tok, err := auth.NewToken(cfg.JWTSecret, *issueToken, 24*time.Hour)
		if err != nil {
			log.Fatalf("Error issuing token: %v", err)
		}
		fmt.Println(tok)
		return
	}

	//database handling
	store, closeStore, err := openDocStore(ctx, cfg, *migrate, *schemaDir, loadAWS, logger)
	if err != nil {
		log.Fatalf("Error opening document store: %v", err)
	}
	defer closeStore()
	if *migrate {
		slog.Info("Migration Completed")
		return
	}

	blobs, blobDir, err := openBlobStore(cfg, loadAWS)
	if err != nil {
		log.Fatalf("Error opening blob store: %v", err)
	}

	drafts, err := session.ParseDraftPolicy(cfg.DraftPolicy)
	if err != nil {
		log.Fatal(err)
	}

	clock := clockwork.NewRealClock()
	profiles := profile.NewCache(store, logger)
	deps := session.Deps{
		Store:      store,
		Directory:  &conversations.Directory{Store: store, Profiles: profiles, Log: logger},
		Messages:   &messages.Service{Store: store, Log: logger},
		Marker:     messages.NewReadMarker(store, logger),
		Sender:     messages.NewSender(store, blobs, profiles, clock, logger),
		Clock:      clock,
		Log:        logger,
		TypingIdle: cfg.TypingIdle,
		MinWidth:   cfg.MinimizeMinWidth,
		Drafts:     drafts,
	}

	hub := gateway.NewHub(logger)
	go hub.Run(ctx)

	gin.SetMode(gin.ReleaseMode)
	router := gateway.NewRouter(gateway.Options{
		JWTSecret: cfg.JWTSecret,
		BlobDir:   blobDir,
		Hub:       hub,
		Session:   deps,
		Profiles:  profiles,
	})

	srv := &http.Server{Addr: cfg.Addr, Handler: router, ReadHeaderTimeout: 10 * time.Second}
	go func() {
		logger.Info("listening", "addr", cfg.Addr, "docstore", cfg.DocStore, "blobstore", cfg.BlobStore)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("Error serving http: %v", err)
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown failed", "err", err)
	}
}

func openDocStore(ctx context.Context, cfg config.Config, migrate bool, schemaDir string, loadAWS func() aws.Config, logger *slog.Logger) (docstore.Store, func(), error) {
	noop := func() {}
	switch cfg.DocStore {
	case "memory":
		return memory.New(), noop, nil

	case "sqlite":
		conn, err := sqlite.New(cfg.SQLiteDSN)
		if err != nil {
			return nil, noop, err
		}
		closeDB := func() { conn.Close() }
		// schema statements are idempotent; sqlite always runs them
		if err := conn.Migrate(filepath.Join(schemaDir, "sqlite", "schema.sql")); err != nil {
			closeDB()
			return nil, noop, err
		}
		s, err := sqlstore.New(conn.Db, sqlstore.SQLite)
		return s, closeDB, err

	case "postgres":
		conn, err := postgres.New(cfg.PostgresDSN)
		if err != nil {
			return nil, noop, err
		}
		closeDB := func() { conn.Close() }
		if migrate {
			if err := conn.Migrate(filepath.Join(schemaDir, "postgres", "schema.sql")); err != nil {
				closeDB()
				return nil, noop, err
			}
		}
		s, err := sqlstore.New(conn.Db, sqlstore.Postgres)
		if err != nil {
			closeDB()
			return nil, noop, err
		}
		// other instances' writes arrive as NOTIFY
		if err := conn.Listen(ctx, sqlstore.NotifyChannel, s.Changed); err != nil {
			logger.Warn("change feed unavailable, only local writes refresh subscriptions", "err", err)
		}
		return s, closeDB, nil

	case "dynamodb":
		s, err := dynamo.New(dynamodb.NewFromConfig(loadAWS()), cfg.DynamoTable)
		return s, noop, err

	case "firestore":
		s, err := firestore.NewStore(ctx, cfg.GCPProject)
		if err != nil {
			return nil, noop, err
		}
		return s, func() { s.Close() }, nil
	}
	return nil, noop, fmt.Errorf("unknown document store %q", cfg.DocStore)
}

// openBlobStore also returns the directory to serve under /blobs, if any.
func openBlobStore(cfg config.Config, loadAWS func() aws.Config) (blobstore.Store, string, error) {
	switch cfg.BlobStore {
	case "s3":
		s, err := s3.NewFromClient(awss3.NewFromConfig(loadAWS()), cfg.S3Bucket, cfg.S3URLTTL)
		return s, "", err
	default:
		s, err := local.New(cfg.BlobDir, cfg.BlobBaseURL)
		if err != nil {
			return nil, "", err
		}
		return s, s.Dir(), nil
	}
}
