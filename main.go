package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	_ "github.com/go-sql-driver/mysql"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"

	"BRMS-backend/internal/platform/auth"
	"BRMS-backend/internal/platform/db"
	"BRMS-backend/internal/platform/events"
	"BRMS-backend/internal/reserve_mgmt/quota"
	"BRMS-backend/internal/reserve_mgmt/reservations"
	"BRMS-backend/internal/reserve_mgmt/resources"
	"BRMS-backend/internal/reserve_mgmt/timewindow"
)

func main() {
	cfg, err := db.LoadConfig("config/config.yaml")
	if err != nil {
		panic(err)
	}

	mode := cfg.Mode
	log.Printf("[INFO] mode:%s\n", mode)

	if cfg.Mode != "dev" && cfg.Mode != "release" {
		fmt.Println("Usage: go run main.go [dev|release]")
		return
	}

	conn, err := db.Connect(cfg.DB)
	if err != nil {
		panic(err)
	}
	defer conn.Close()

	log.Printf("[INFO] connected to DB: %s", cfg.DB.DBName)

	var pub events.Publisher = events.Noop{}
	if cfg.Redis.Addr != "" {
		rp, err := events.NewRedisPublisher(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
		if err != nil {
			log.Printf("[WARN] redis unavailable, notifications disabled: %v", err)
		} else {
			defer rp.Close()
			pub = rp
			log.Printf("[INFO] publishing events to redis at %s", cfg.Redis.Addr)
		}
	}

	itemClose, err := timewindow.ParseTimeOfDay(cfg.Policy.ItemClose)
	if err != nil {
		panic(fmt.Errorf("policy.item_close: %w", err))
	}
	computerClose, err := timewindow.ParseTimeOfDay(cfg.Policy.ComputerClose)
	if err != nil {
		panic(fmt.Errorf("policy.computer_close: %w", err))
	}
	policy := reservations.Policy{
		LateFeePerDay:       cfg.Policy.LateFeePerDay,
		RenewalWindowDays:   cfg.Policy.RenewalWindowDays,
		MaxExtensionDays:    cfg.Policy.MaxExtensionDays,
		DefaultBorrowDays:   cfg.Policy.DefaultBorrowDays,
		ItemCloseMinute:     itemClose,
		ComputerCloseMinute: computerClose,
		ComputerMaxMinutes:  cfg.Policy.ComputerMaxMinutes,
	}
	limits := quota.Limits{
		ResidentDailyLimit: cfg.Quota.ResidentDailyLimit,
		SystemDailyLimit:   cfg.Quota.SystemDailyLimit,
	}
	secret := []byte(cfg.Auth.JWTSecret)
	if len(secret) == 0 {
		panic("auth.jwt_secret is required")
	}

	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Logger(), gin.Recovery())
	_ = r.SetTrustedProxies(nil)

	if mode == "dev" {
		r.Use(cors.New(cors.Config{
			AllowOrigins:     []string{"http://localhost:3000"},
			AllowHeaders:     []string{"Origin", "Content-Type", "Authorization"},
			ExposeHeaders:    []string{"Content-Length"},
			AllowMethods:     []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
			AllowCredentials: true,
		}))
		r.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	}

	r.GET("/healthz", func(c *gin.Context) { c.String(http.StatusOK, "ok") })

	authSvc := auth.NewService(conn, secret, time.Duration(cfg.Auth.TokenTTL)*time.Hour)
	resourceSvc := resources.NewService(conn, cfg.Policy.DefaultBorrowDays)
	reservationSvc := reservations.NewService(conn, pub, policy)
	quotaSvc := quota.NewService(conn, pub, limits)

	api := r.Group("/api/v1")
	auth.RegisterPublicRoutes(api, authSvc)

	authed := api.Group("", auth.RequireAuth(secret))
	resources.RegisterRoutes(authed, resourceSvc)
	reservations.RegisterRoutes(authed, reservationSvc)
	quota.RegisterRoutes(authed, quotaSvc)

	staff := api.Group("", auth.RequireAuth(secret), auth.RequireRole(auth.RoleStaff, auth.RoleAdmin))
	reservations.RegisterStaffRoutes(staff, reservationSvc)
	quota.RegisterStaffRoutes(staff, quotaSvc)

	admin := api.Group("", auth.RequireAuth(secret), auth.RequireRole(auth.RoleAdmin))
	resources.RegisterAdminRoutes(admin, resourceSvc)
	auth.RegisterAdminRoutes(admin, authSvc)

	srv := &http.Server{
		Addr:    cfg.Addr,
		Handler: r,
	}

	go func() {
		if cfg.Certificate.Cert == "" {
			log.Printf("[INFO] listening on http://0.0.0.0%s", cfg.Addr)
			if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Fatal(err)
			}
			return
		}

		certDir := "config/tls/release"
		if mode == "dev" {
			certDir = "config/tls/dev"
		}
		certFile := fmt.Sprintf("%s/%s", certDir, cfg.Certificate.Cert)
		keyFile := fmt.Sprintf("%s/%s", certDir, cfg.Certificate.Key)

		log.Printf("[INFO] listening on https://0.0.0.0%s", cfg.Addr)
		if err := srv.ListenAndServeTLS(certFile, keyFile); err != nil && err != http.ErrServerClosed {
			log.Fatal(err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt)
	<-quit
	log.Println("[INFO] shutting down...")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Fatal(err)
	}
}
