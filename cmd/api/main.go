package main

import (
	"log"
	"os"
	"strconv"
	"time"

	_ "github.com/delion-inc/Instant-Wellness-Tax-Engine/api/swagger" // swagger docs
	"github.com/delion-inc/Instant-Wellness-Tax-Engine/internal/database"
	"github.com/delion-inc/Instant-Wellness-Tax-Engine/internal/handler"
	"github.com/delion-inc/Instant-Wellness-Tax-Engine/internal/importer"
	"github.com/delion-inc/Instant-Wellness-Tax-Engine/internal/middleware"
	"github.com/delion-inc/Instant-Wellness-Tax-Engine/internal/progress"
	"github.com/delion-inc/Instant-Wellness-Tax-Engine/internal/repository"
	"github.com/delion-inc/Instant-Wellness-Tax-Engine/internal/service"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
)

// @title           Sales Tax Jurisdiction API
// @version         1.0
// @description     Assigns tax jurisdictions to geocoded orders, imports bulk CSV data and recalculates composite rates in the background.
// @host            localhost:8080
// @BasePath        /
// @securityDefinitions.apikey BearerAuth
// @in header
// @name Authorization
func main() {
	if err := godotenv.Load("configs/.env"); err != nil {
		log.Println("No configs/.env file found or error loading it")
	}

	dsn := buildDSN()
	db, err := database.NewConnection(dsn)
	if err != nil {
		log.Fatalf("Database connection failed: %v", err)
	}
	log.Println("Connected to PostgreSQL successfully.")

	calcBatchSize := envInt("APP_CALC_BATCH_SIZE", 500)
	batchCapacity := envInt("APP_IMPORT_BATCH_CAPACITY", 500)
	progressTimeout := time.Duration(envInt("APP_PROGRESS_TIMEOUT_MINUTES", 10)) * time.Minute
	jwtSecret := middleware.GetJWTSecret()

	// Shared in-memory stores
	progressStore := progress.NewStore(progressTimeout)
	batchStore := service.NewImportBatchStore(batchCapacity)

	// Set up dependencies (Repository -> Service -> Handler)
	orderRepo := repository.NewOrderRepository(db, calcBatchSize)
	calcRepo := repository.NewCalculationRepository(db)
	auditRepo := repository.NewAuditRepository(db)
	userRepo := repository.NewUserRepository(db)
	txManager := repository.NewTransactionManager(db)

	calcService := service.NewCalculationService(calcRepo, calcBatchSize)
	trigger := service.NewCalculationTrigger(calcService, orderRepo, batchStore, progressStore)
	orderService := service.NewOrderService(orderRepo, auditRepo, txManager, importer.NewParser(), calcService, trigger, batchStore)
	userService := service.NewUserService(userRepo, jwtSecret)

	// Initialize Handlers
	orderHandler := handler.NewOrderHandler(orderService, batchStore, progressStore, jwtSecret)
	userHandler := handler.NewUserHandler(userService)

	// Set up Gin Router
	router := gin.Default()

	// CORS configuration
	corsConfig := cors.DefaultConfig()
	corsConfig.AllowOrigins = []string{"http://localhost:5173", "http://127.0.0.1:5173"}
	corsConfig.AllowCredentials = true
	corsConfig.AllowHeaders = []string{"Origin", "Content-Length", "Content-Type", "Authorization", "Accept"}
	corsConfig.AllowMethods = []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"}
	router.Use(cors.New(corsConfig))

	// Swagger route
	router.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))

	// Health check
	router.GET("/health", func(c *gin.Context) {
		c.JSON(200, gin.H{"status": "OK"})
	})

	// Register API Routes
	orderHandler.RegisterRoutes(router.Group(""))
	userHandler.RegisterRoutes(router.Group(""))

	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}

	log.Printf("Server listening on :%s", port)
	if err := router.Run(":" + port); err != nil {
		log.Fatalf("Server failed: %v", err)
	}
}

func buildDSN() string {
	get := func(key, fallback string) string {
		if v := os.Getenv(key); v != "" {
			return v
		}
		return fallback
	}

	return "postgres://" + get("DB_USER", "postgres") + ":" + get("DB_PASSWORD", "postgres") +
		"@" + get("DB_HOST", "localhost") + ":" + get("DB_PORT", "5432") +
		"/" + get("DB_NAME", "postgres") + "?sslmode=" + get("DB_SSLMODE", "disable")
}

func envInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		log.Printf("Ignoring invalid %s=%q, using %d", key, v, fallback)
		return fallback
	}
	return n
}
