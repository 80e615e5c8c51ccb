package server

import (
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/limiter"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"gorm.io/gorm"

	"tabletop-backend/internal/auth"
	"tabletop-backend/internal/board"
	"tabletop-backend/internal/config"
	"tabletop-backend/internal/handler"
	"tabletop-backend/internal/presence"
	"tabletop-backend/internal/room"
	"tabletop-backend/internal/storage"
)

// Server Fiber 서버 래퍼
type Server struct {
	app          *fiber.App
	cfg          *config.Config
	db           *gorm.DB
	hub          *room.Hub
	authHandler  *handler.AuthHandler
	lobbyHandler *handler.LobbyHandler
	wsHandler    *handler.WSHandler
	jwtManager   *auth.JWTManager
}

// New 새 서버 인스턴스 생성
func New(cfg *config.Config, db *gorm.DB) *Server {
	app := fiber.New(fiber.Config{
		AppName:         "Tabletop Sync Backend",
		ServerHeader:    "Fiber",
		StrictRouting:   true,
		CaseSensitive:   true,
		ReadTimeout:     cfg.Server.ReadTimeout,
		WriteTimeout:    cfg.Server.WriteTimeout,
		IdleTimeout:     cfg.Server.IdleTimeout,
		Prefork:         false, // WebSocket과 호환성 문제로 비활성화
		ReadBufferSize:  16384,
		WriteBufferSize: 16384,
		BodyLimit:       20 * 1024 * 1024, // 맵 이미지 업로드 허용
	})

	jwtManager := auth.NewJWTManager(cfg.Auth.JWTSecret, cfg.Auth.TokenExpiry)

	// S3 서비스 초기화 (선택적)
	var s3Service *storage.S3Service
	if cfg.S3.BucketName != "" && cfg.S3.AccessKeyID != "" {
		var err error
		s3Service, err = storage.NewS3Service(&cfg.S3)
		if err != nil {
			log.Printf("⚠️ S3 service initialization failed: %v (map upload will be disabled)", err)
			s3Service = nil
		} else {
			log.Printf("✅ S3 service initialized (bucket: %s)", cfg.S3.BucketName)
		}
	} else {
		log.Println("ℹ️ S3 service not configured (map upload will be disabled)")
	}

	// Redis presence (선택적)
	var presenceManager *presence.Manager
	if cfg.Redis.Enabled {
		presenceManager = presence.NewManager(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
		if err := presenceManager.Ping(); err != nil {
			log.Printf("⚠️ Redis connection failed: %v (presence disabled)", err)
			presenceManager = nil
		} else {
			log.Printf("✅ Redis presence enabled (%s)", cfg.Redis.Addr)
		}
	}

	hub := room.NewHub()
	boards := board.NewStore()

	return &Server{
		app:          app,
		cfg:          cfg,
		db:           db,
		hub:          hub,
		authHandler:  handler.NewAuthHandler(db, jwtManager),
		lobbyHandler: handler.NewLobbyHandler(db, hub, cfg.Lobby.TTL),
		wsHandler: handler.NewWSHandler(db, hub, boards, s3Service, presenceManager,
			cfg.WebSocket.MaxMessageSize, cfg.Lobby.TTL),
		jwtManager: jwtManager,
	}
}

// PurgeLobbies 만료 스윕이 지운 로비들의 인메모리 상태/객체 정리
func (s *Server) PurgeLobbies(lobbyIDs []int64, s3Keys []string) {
	s.wsHandler.PurgeLobbies(lobbyIDs, s3Keys)
}

// SetupMiddleware 미들웨어 설정
func (s *Server) SetupMiddleware() {
	// 패닉 복구
	s.app.Use(recover.New(recover.Config{
		EnableStackTrace: true,
	}))

	// 로깅
	s.app.Use(logger.New(logger.Config{
		Format:     "${time} | ${status} | ${latency} | ${ip} | ${method} ${path}\n",
		TimeFormat: "2006-01-02 15:04:05",
	}))

	// CORS
	s.app.Use(cors.New(cors.Config{
		AllowOrigins:     s.cfg.CORS.AllowOrigins,
		AllowHeaders:     s.cfg.CORS.AllowHeaders,
		AllowMethods:     "GET, POST, PUT, DELETE, OPTIONS",
		AllowCredentials: true,
	}))
}

// SetupRoutes 라우트 설정
func (s *Server) SetupRoutes() {
	// 헬스체크 엔드포인트
	s.app.Get("/health", func(c *fiber.Ctx) error {
		return c.SendStatus(fiber.StatusOK)
	})

	// Rate Limiter (로그인 Brute Force 방지)
	authLimiter := limiter.New(limiter.Config{
		Max:        10,
		Expiration: 1 * time.Minute,
		KeyGenerator: func(c *fiber.Ctx) string {
			return c.IP()
		},
		LimitReached: func(c *fiber.Ctx) error {
			return c.Status(fiber.StatusTooManyRequests).JSON(fiber.Map{
				"error": "too many requests, please try again later",
			})
		},
	})

	// Auth 라우트
	s.app.Post("/api/auth", authLimiter, s.authHandler.Login)
	s.app.Get("/api/auth/me", auth.AuthMiddleware(s.jwtManager), s.authHandler.GetMe)

	// Lobby 디렉터리 라우트 (인증 필요)
	lobbyGroup := s.app.Group("/api/lobby", auth.AuthMiddleware(s.jwtManager))
	lobbyGroup.Get("", s.lobbyHandler.ListLobbies)
	lobbyGroup.Post("", s.lobbyHandler.CreateLobby)
	lobbyGroup.Get("/:id/chat", s.lobbyHandler.GetChatHistory)
	lobbyGroup.Post("/:id/chat", s.lobbyHandler.PostMessage)

	// WebSocket 업그레이드 (토큰은 쿼리 또는 쿠키)
	s.app.Get("/ws", func(c *fiber.Ctx) error {
		if !websocket.IsWebSocketUpgrade(c) {
			return fiber.ErrUpgradeRequired
		}

		token := c.Query("token")
		if token == "" {
			token = c.Cookies("access_token")
		}
		if token == "" {
			return c.SendStatus(fiber.StatusUnauthorized)
		}

		claims, err := s.jwtManager.ValidateToken(token)
		if err != nil {
			return c.SendStatus(fiber.StatusUnauthorized)
		}

		c.Locals("userID", claims.UserID)
		c.Locals("displayName", claims.DisplayName)

		return c.Next()
	}, websocket.New(s.wsHandler.HandleWebSocket, websocket.Config{
		ReadBufferSize:  s.cfg.WebSocket.ReadBufferSize,
		WriteBufferSize: s.cfg.WebSocket.WriteBufferSize,
	}))
}

// Start 서버 시작 (Graceful Shutdown 지원)
func (s *Server) Start() error {
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-quit
		log.Println("🛑 Shutting down server...")
		if err := s.app.ShutdownWithTimeout(30 * time.Second); err != nil {
			log.Fatalf("Server shutdown error: %v", err)
		}
	}()

	log.Printf("🚀 Tabletop Sync Backend starting on %s", s.cfg.Server.Port)
	log.Printf("📡 WebSocket endpoint: ws://localhost%s/ws", s.cfg.Server.Port)

	return s.app.Listen(s.cfg.Server.Port)
}

// Shutdown 서버 종료
func (s *Server) Shutdown() error {
	return s.app.ShutdownWithTimeout(30 * time.Second)
}
