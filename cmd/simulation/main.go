package main

import (
	"bytes"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"math/rand"
	"net/http"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/winubot/trading-engine/internal/accounts"
	"github.com/winubot/trading-engine/internal/database"
	"github.com/winubot/trading-engine/internal/subscriptions"
	"github.com/winubot/trading-engine/internal/types"
	"github.com/winubot/trading-engine/internal/vault"
)

const (
	serverAddress = "http://localhost:8080"
	numSignals    = 10
	numWebhooks   = 5
	webhookSecret = "simulation-webhook-secret"
)

var symbols = []string{"BTC/USDT", "ETH/USDT", "SOL/USDT"}

// init configures the logger for the simulation with pretty printing.
func init() {
	output := zerolog.ConsoleWriter{
		Out:        os.Stdout,
		TimeFormat: time.RFC3339,
	}
	log.Logger = zerolog.New(output).With().Timestamp().Logger()
}

// routeStats tracks performance statistics for an API endpoint.
type routeStats struct {
	name       string
	durations  []time.Duration
	totalCalls int
	failures   int
}

func (rs *routeStats) addDuration(d time.Duration) {
	rs.durations = append(rs.durations, d)
	rs.totalCalls++
}

// calculate computes min, max, mean, median, p95 and p99 durations.
func (rs *routeStats) calculate() (min, max, mean, median, p95, p99 time.Duration) {
	if len(rs.durations) == 0 {
		return 0, 0, 0, 0, 0, 0
	}

	sort.Slice(rs.durations, func(i, j int) bool {
		return rs.durations[i] < rs.durations[j]
	})

	min = rs.durations[0]
	max = rs.durations[len(rs.durations)-1]

	var sum time.Duration
	for _, d := range rs.durations {
		sum += d
	}
	mean = sum / time.Duration(len(rs.durations))
	median = rs.durations[len(rs.durations)/2]

	p95idx := int(math.Ceil(float64(len(rs.durations))*0.95)) - 1
	p99idx := int(math.Ceil(float64(len(rs.durations))*0.99)) - 1
	p95 = rs.durations[p95idx]
	p99 = rs.durations[p99idx]

	return
}

// simulationClient handles HTTP communication with the engine.
type simulationClient struct {
	baseURL   string
	authToken string
	client    *http.Client
	stats     map[string]*routeStats
}

func newSimulationClient() (*simulationClient, error) {
	sc := &simulationClient{
		baseURL: serverAddress,
		client:  &http.Client{Timeout: 10 * time.Second},
		stats: map[string]*routeStats{
			"auth":    {name: "Authentication"},
			"fanout":  {name: "Signal Fanout"},
			"webhook": {name: "Payment Webhook"},
			"admin":   {name: "Admin Data"},
		},
	}

	token, err := sc.authenticate()
	if err != nil {
		return nil, fmt.Errorf("failed to authenticate: %w", err)
	}
	sc.authToken = token
	return sc, nil
}

func (sc *simulationClient) authenticate() (string, error) {
	start := time.Now()
	defer func() {
		sc.stats["auth"].addDuration(time.Since(start))
	}()

	body, err := json.Marshal(map[string]string{
		"api_key":    envOr("ADMIN_API_KEY", "sim-admin"),
		"api_secret": envOr("ADMIN_API_SECRET", "sim-admin-secret"),
	})
	if err != nil {
		return "", err
	}

	resp, err := sc.client.Post(sc.baseURL+"/api/v1/auth/token", "application/json", bytes.NewReader(body))
	if err != nil {
		sc.stats["auth"].failures++
		return "", err
	}
	defer resp.Body.Close()

	var result struct {
		Data struct {
			Token string `json:"jwt_token"`
		} `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		sc.stats["auth"].failures++
		return "", err
	}
	if result.Data.Token == "" {
		sc.stats["auth"].failures++
		return "", fmt.Errorf("no token in response (status %d)", resp.StatusCode)
	}
	return result.Data.Token, nil
}

// sendSignal pushes one signal through the internal fanout endpoint, the way
// the upstream scheduler would.
func (sc *simulationClient) sendSignal(signal types.Signal) error {
	start := time.Now()
	defer func() {
		sc.stats["fanout"].addDuration(time.Since(start))
	}()

	body, err := json.Marshal(signal)
	if err != nil {
		return err
	}

	req, err := http.NewRequest(http.MethodPost, sc.baseURL+"/api/v1/internal/signals/fanout", bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+sc.authToken)

	if err := sc.do(req, "fanout"); err != nil {
		return err
	}
	return nil
}

// sendWebhook delivers a signed payment webhook, the way a provider would.
func (sc *simulationClient) sendWebhook(method string, event map[string]interface{}) error {
	start := time.Now()
	defer func() {
		sc.stats["webhook"].addDuration(time.Since(start))
	}()

	body, err := json.Marshal(event)
	if err != nil {
		return err
	}

	mac := hmac.New(sha256.New, []byte(webhookSecret))
	mac.Write(body)

	req, err := http.NewRequest(http.MethodPost, sc.baseURL+"/webhooks/"+method, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Webhook-Signature", hex.EncodeToString(mac.Sum(nil)))

	return sc.do(req, "webhook")
}

// fetchAdminData pulls the monitoring view to confirm reconciliation state.
func (sc *simulationClient) fetchAdminData() error {
	start := time.Now()
	defer func() {
		sc.stats["admin"].addDuration(time.Since(start))
	}()

	req, err := http.NewRequest(http.MethodGet, sc.baseURL+"/api/v1/admin/payments/data", nil)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+sc.authToken)

	return sc.do(req, "admin")
}

func (sc *simulationClient) do(req *http.Request, statKey string) error {
	resp, err := sc.client.Do(req)
	if err != nil {
		sc.stats[statKey].failures++
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		sc.stats[statKey].failures++
		data, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("status %d: %s", resp.StatusCode, data)
	}
	return nil
}

// printPerformanceStats outputs formatted latency statistics per endpoint.
func (sc *simulationClient) printPerformanceStats() {
	fmt.Println("\nAPI Performance Statistics")
	fmt.Println(strings.Repeat("-", 100))
	fmt.Printf("%-20s %8s %8s %9s %9s %9s %9s %9s %9s\n",
		"Endpoint", "Calls", "Errors", "Min", "Max", "Mean", "Median", "P95", "P99")
	fmt.Println(strings.Repeat("-", 100))

	for _, stats := range sc.stats {
		min, max, mean, median, p95, p99 := stats.calculate()
		fmt.Printf("%-20s %8d %8d %9s %9s %9s %9s %9s %9s\n",
			stats.name,
			stats.totalCalls,
			stats.failures,
			min.Round(time.Millisecond),
			max.Round(time.Millisecond),
			mean.Round(time.Millisecond),
			median.Round(time.Millisecond),
			p95.Round(time.Millisecond),
			p99.Round(time.Millisecond))
	}
	fmt.Println(strings.Repeat("-", 100))
}

// main seeds accounts and users directly in the engine database, then drives
// signals and payment webhooks through the HTTP API.
func main() {
	if err := seed(); err != nil {
		log.Fatal().Err(err).Msg("failed to seed simulation data")
	}

	sc, err := newSimulationClient()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to create simulation client")
	}

	for i := 0; i < numSignals; i++ {
		signal := types.Signal{
			ID:        uuid.New().String(),
			Symbol:    symbols[rand.Intn(len(symbols))],
			Direction: types.DirectionLong,
			Score:     0.5 + rand.Float64()*0.5,
			Price:     100 + rand.Float64()*50000,
			Timeframe: "4h",
			CreatedAt: time.Now(),
		}
		if err := sc.sendSignal(signal); err != nil {
			log.Error().Err(err).Msg("fanout request failed")
			continue
		}
		log.Info().Str("symbol", signal.Symbol).Msg("signal fanned out")
	}

	for i := 0; i < numWebhooks; i++ {
		event := map[string]interface{}{
			"event":          "payment_confirmed",
			"user_id":        fmt.Sprintf("user-%d", i%3),
			"plan_id":        "pro",
			"amount":         49.0,
			"currency":       "USD",
			"provider_tx_id": uuid.New().String(),
		}
		if err := sc.sendWebhook("simpay", event); err != nil {
			log.Error().Err(err).Msg("webhook request failed")
			continue
		}
		log.Info().Int("n", i).Msg("payment webhook delivered")
	}

	if err := sc.fetchAdminData(); err != nil {
		log.Error().Err(err).Msg("admin data request failed")
	}

	log.Info().Msg("simulation complete")
	sc.printPerformanceStats()
}

// seed creates three trading accounts with distinct position caps and three
// registered users, mirroring a small production tenant.
func seed() error {
	db, err := database.NewDatabase(envOr("DATABASE_PATH", "engine.db"))
	if err != nil {
		return err
	}

	credentialVault, err := vault.New(db, envOr("VAULT_MASTER_KEY",
		"000102030405060708090a0b0c0d0e0f101112131415161718191a1b1c1d1e1f"))
	if err != nil {
		return err
	}

	accountsDB := accounts.NewDatabase(db)
	caps := []float64{500, 2000, 100}
	for i, cap := range caps {
		apiKeyID := fmt.Sprintf("sim-account-%d", i)
		if existing, err := accountsDB.Get(apiKeyID); err != nil || existing != nil {
			continue
		}
		account := &accounts.AccountConfig{
			APIKeyID:           apiKeyID,
			UserID:             fmt.Sprintf("user-%d", i),
			Exchange:           "binance",
			AccountType:        "spot",
			IsActive:           true,
			IsVerified:         true,
			AutoTradeEnabled:   true,
			MaxPositionSizeUSD: cap,
			Leverage:           1,
			MaxDailyTrades:     20,
			MaxRiskPerTrade:    0.02,
			MaxDailyLoss:       0.05,
			PositionSizingMode: types.SizingFixed,
			PositionSizeValue:  250,
		}
		if err := accountsDB.Create(account); err != nil {
			return err
		}
		if err := credentialVault.Store(apiKeyID, "sim-key-"+apiKeyID, "sim-secret"); err != nil {
			return err
		}
	}

	subsDB := subscriptions.NewDatabase(db)
	for i := 0; i < 3; i++ {
		userID := fmt.Sprintf("user-%d", i)
		if existing, err := subsDB.GetUser(userID); err != nil || existing != nil {
			continue
		}
		if err := subsDB.CreateUser(&subscriptions.User{
			UserID: userID,
			Email:  fmt.Sprintf("%s@example.com", userID),
		}); err != nil {
			return err
		}
	}

	return nil
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
