// Bridge server between browser clients and the Azure OpenAI Realtime API.
// Serves the session WebSocket, a health endpoint, and an optional static
// frontend. Features: optional OIDC (Entra ID) verification for callers and
// simple CORS.
package main

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/MicahParks/keyfunc/v2"
	oidc "github.com/coreos/go-oidc/v3/oidc"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/joho/godotenv"

	"github.com/enesunal-m/voicebridge"
)

type server struct {
	mgr      *voicebridge.Manager
	logger   *voicebridge.Logger
	upgrader websocket.Upgrader

	// OIDC config
	tokenType string // "id" (ID token) or "access" (JWT access token)
	issuer    string
	audience  string
	verifier  *oidc.IDTokenVerifier
	jwks      *keyfunc.JWKS

	// CORS
	allowedOrigins []string
}

func main() {
	// Optional .env for local development; real deployments set the
	// environment directly.
	_ = godotenv.Load()

	logger := voicebridge.NewLoggerFromEnv()

	cfg := voicebridge.Config{
		ResourceEndpoint:  must("AZURE_OPENAI_ENDPOINT"),
		Deployment:        must("AZURE_OPENAI_DEPLOYMENT"),
		APIVersion:        env("AZURE_API_VERSION", "2025-04-01-preview"),
		Credential:        voicebridge.APIKey(must("AZURE_OPENAI_API_KEY")),
		OutputAudioFormat: env("AZURE_OPENAI_OUTPUT_FORMAT", voicebridge.FormatPCM16),
		Prompt:            os.Getenv("VOICEBRIDGE_PROMPT"),
		Retry:             voicebridge.DefaultRetryConfig(),
		Logger:            logger,
	}
	if err := voicebridge.ValidateConfig(cfg); err != nil {
		log.Fatalf("config: %v", err)
	}

	s := &server{
		mgr:    voicebridge.NewManager(cfg),
		logger: logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
		},
	}
	s.upgrader.CheckOrigin = s.checkOrigin

	// OIDC setup
	if iss := os.Getenv("OIDC_ISSUER"); iss != "" {
		aud := must("OIDC_AUDIENCE")
		s.issuer = iss
		s.audience = aud
		s.tokenType = env("OIDC_TOKEN_TYPE", "access") // "id" or "access"

		prov, err := oidc.NewProvider(context.Background(), iss)
		if err != nil {
			log.Fatalf("oidc provider: %v", err)
		}

		if s.tokenType == "id" {
			s.verifier = prov.Verifier(&oidc.Config{ClientID: aud})
			log.Println("OIDC (ID token) enabled", iss, "aud", aud)
		} else {
			var disc struct {
				JWKSURI string `json:"jwks_uri"`
			}
			if err := prov.Claims(&disc); err != nil || disc.JWKSURI == "" {
				log.Fatalf("failed to discover jwks_uri: %v", err)
			}
			jwks, err := keyfunc.Get(disc.JWKSURI, keyfunc.Options{
				RefreshInterval: time.Hour,
				RefreshTimeout:  10 * time.Second,
			})
			if err != nil {
				log.Fatalf("jwks: %v", err)
			}
			s.jwks = jwks
			log.Println("OIDC (access token) enabled", iss, "aud", aud)
		}
	} else {
		log.Println("OIDC disabled")
	}

	if ao := os.Getenv("CORS_ALLOWED_ORIGINS"); ao != "" {
		s.allowedOrigins = splitCSV(ao)
		log.Println("CORS allowed origins:", s.allowedOrigins)
	}

	mux := http.NewServeMux()
	mux.Handle("/ws/{client_id}", s.cors(s.auth(http.HandlerFunc(s.handleWebSocket))))
	mux.Handle("/ws", s.cors(s.auth(http.HandlerFunc(s.handleWebSocket))))
	mux.Handle("/health", s.cors(http.HandlerFunc(s.handleHealth)))
	if dir := os.Getenv("VOICEBRIDGE_STATIC_DIR"); dir != "" {
		mux.Handle("/", http.FileServer(http.Dir(dir)))
	}

	addr := env("ADDR", ":8000")
	srv := &http.Server{Addr: addr, Handler: mux}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go func() {
		log.Println("voicebridge listening on", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("server: %v", err)
		}
	}()

	<-ctx.Done()
	log.Println("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = srv.Shutdown(shutdownCtx)
	s.mgr.Close()
}

func (s *server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	clientID := r.PathValue("client_id")
	if clientID == "" {
		clientID = uuid.NewString()
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Error("ws_upgrade_failed", map[string]any{"error": err})
		return
	}

	if err := s.mgr.HandleConnect(r.Context(), clientID, conn); err != nil {
		// The client already received a structured error message; the
		// session stays registered so it can observe further state.
		s.logger.Error("session_connect_failed", map[string]any{"client_id": clientID, "error": err})
	}

	go s.readPump(clientID, conn)
}

func (s *server) readPump(clientID string, conn *websocket.Conn) {
	defer s.mgr.HandleDisconnect(clientID)

	conn.SetReadLimit(1 << 20)
	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure, websocket.CloseNormalClosure) {
				s.logger.Warn("ws_read_error", map[string]any{"client_id": clientID, "error": err})
			}
			return
		}
		if err := s.mgr.HandleMessage(context.Background(), clientID, raw); err != nil {
			s.logger.Warn("message_rejected", map[string]any{"client_id": clientID, "error": err})
		}
	}
}

func (s *server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(map[string]any{
		"status":             "healthy",
		"active_connections": s.mgr.ActiveSessions(),
	}); err != nil {
		s.logger.Warn("health_write_failed", map[string]any{"error": err})
	}
}

func (s *server) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" || len(s.allowedOrigins) == 0 {
		return true
	}
	return contains(s.allowedOrigins, origin) || contains(s.allowedOrigins, "*")
}

// Middleware: OIDC auth
func (s *server) auth(next http.Handler) http.Handler {
	if s.issuer == "" {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		auth := r.Header.Get("Authorization")
		if !strings.HasPrefix(strings.ToLower(auth), "bearer ") {
			http.Error(w, "missing bearer", http.StatusUnauthorized)
			return
		}
		raw := strings.TrimSpace(auth[len("Bearer "):])
		if s.tokenType == "id" {
			if s.verifier == nil {
				http.Error(w, "verifier not initialized", http.StatusInternalServerError)
				return
			}
			if _, err := s.verifier.Verify(r.Context(), raw); err != nil {
				http.Error(w, "invalid token", http.StatusUnauthorized)
				return
			}
		} else {
			if s.jwks == nil {
				http.Error(w, "jwks not initialized", http.StatusInternalServerError)
				return
			}
			tok, err := jwt.Parse(raw, s.jwks.Keyfunc, jwt.WithAudience(s.audience), jwt.WithIssuer(s.issuer))
			if err != nil || !tok.Valid {
				http.Error(w, "invalid token", http.StatusUnauthorized)
				return
			}
		}
		next.ServeHTTP(w, r)
	})
}

// Middleware: CORS
func (s *server) cors(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		if origin != "" && (len(s.allowedOrigins) == 0 || contains(s.allowedOrigins, origin) || contains(s.allowedOrigins, "*")) {
			w.Header().Set("Access-Control-Allow-Origin", origin)
			w.Header().Set("Vary", "Origin")
			w.Header().Set("Access-Control-Allow-Headers", "Authorization, Content-Type")
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		}
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// helpers
func must(k string) string {
	v := os.Getenv(k)
	if v == "" {
		log.Fatalf("missing env %s", k)
	}
	return v
}

func env(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}

func splitCSV(s string) []string {
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if t := strings.TrimSpace(p); t != "" {
			out = append(out, t)
		}
	}
	return out
}

func contains(a []string, v string) bool {
	for _, x := range a {
		if x == v {
			return true
		}
	}
	return false
}
