package main

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/jwt/v2"
	"github.com/nats-io/nats.go"
	"github.com/nats-io/nkeys"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/codeedexprojects/rigsdock-chat/pkg/identity"
	"github.com/codeedexprojects/rigsdock-chat/pkg/otelhelper"
)

// AuthHandler processes NATS auth callout requests. Dashboard and vendor-app
// clients connect with a Keycloak token; backend services connect with
// username/password checked against the service account cache.
type AuthHandler struct {
	issuerKP        nkeys.KeyPair
	xkeyKP          nkeys.KeyPair
	binder          *identity.Binder
	serviceAccounts *ServiceAccountCache
	issuerPub       string
	authCounter     metric.Int64Counter
	authDuration    metric.Float64Histogram
}

// NewAuthHandler creates a new auth handler with the given config and binder.
func NewAuthHandler(cfg Config, binder *identity.Binder, serviceAccounts *ServiceAccountCache, meter metric.Meter) (*AuthHandler, error) {
	// Parse the issuer account NKey from seed
	issuerKP, err := nkeys.FromSeed([]byte(cfg.IssuerSeed))
	if err != nil {
		return nil, fmt.Errorf("failed to parse issuer NKey seed: %w", err)
	}

	issuerPub, err := issuerKP.PublicKey()
	if err != nil {
		return nil, fmt.Errorf("failed to get issuer public key: %w", err)
	}

	// Parse the XKey from seed (for decryption)
	xkeyKP, err := nkeys.FromSeed([]byte(cfg.XKeySeed))
	if err != nil {
		return nil, fmt.Errorf("failed to parse XKey seed: %w", err)
	}

	authCounter, _ := meter.Int64Counter("auth_requests_total")
	authDuration, _ := meter.Float64Histogram("auth_request_duration_seconds")

	slog.Info("Auth handler initialized", "issuer", issuerPub)

	return &AuthHandler{
		issuerKP:        issuerKP,
		xkeyKP:          xkeyKP,
		binder:          binder,
		serviceAccounts: serviceAccounts,
		issuerPub:       issuerPub,
		authCounter:     authCounter,
		authDuration:    authDuration,
	}, nil
}

// Handle processes a single auth callout request message.
func (h *AuthHandler) Handle(msg *nats.Msg) {
	start := time.Now()
	ctx, span := otelhelper.StartServerSpan(context.Background(), msg, "auth callout")
	defer span.End()
	defer func() {
		h.authDuration.Record(ctx, time.Since(start).Seconds())
	}()

	result := func(name string) {
		span.SetAttributes(attribute.String("auth.result", name))
		h.authCounter.Add(ctx, 1, metric.WithAttributes(attribute.String("result", name)))
	}

	// The server's ephemeral XKey rides in a header; the payload is sealed
	// against our XKey.
	serverXKey := msg.Header.Get("Nats-Server-Xkey")
	requestData, err := h.decryptRequest(msg.Data, serverXKey)
	if err != nil {
		slog.ErrorContext(ctx, "Failed to decrypt request", "error", err)
		span.RecordError(err)
		result("error")
		return
	}

	reqClaims, err := jwt.DecodeAuthorizationRequestClaims(string(requestData))
	if err != nil {
		slog.ErrorContext(ctx, "Failed to decode auth request claims", "error", err)
		span.RecordError(err)
		result("error")
		return
	}

	userNKey := reqClaims.UserNkey
	clientInfo := reqClaims.ClientInformation
	connectOpts := reqClaims.ConnectOptions
	serverID := reqClaims.Server.ID
	serverXKey = reqClaims.Server.XKey

	slog.InfoContext(ctx, "Auth request",
		"client", clientInfo.Name,
		"host", clientInfo.Host,
		"user", connectOpts.Username,
		"has_token", connectOpts.Token != "",
	)

	var username string
	var perms jwt.Permissions
	var expiry int64

	switch {
	case connectOpts.Token != "":
		// Dashboard or vendor app: bind the Keycloak token to a participant.
		p, err := h.binder.Bind(connectOpts.Token)
		if err != nil {
			slog.WarnContext(ctx, "Rejected token connect", "client", clientInfo.Name, "error", err)
			span.RecordError(err)
			result("rejected")
			return
		}

		username = p.ID
		perms = mapPermissions(p)
		// The minted NATS JWT never outlives an hour; clients re-run the
		// callout with a fresh Keycloak token on reconnect.
		expiry = time.Now().Add(1 * time.Hour).Unix()
		span.SetAttributes(attribute.String("auth.type", "participant"))
		slog.InfoContext(ctx, "Token bound", "participant", p.ID, "role", p.Role)

	case connectOpts.Username != "" && connectOpts.Password != "":
		// Backend service: check against the DB-backed cache.
		if !h.serviceAccounts.Authenticate(connectOpts.Username, connectOpts.Password) {
			slog.WarnContext(ctx, "Invalid service credentials", "username", connectOpts.Username, "host", clientInfo.Host)
			result("rejected")
			return
		}

		username = connectOpts.Username
		perms = servicePermissions()
		expiry = time.Now().Add(24 * time.Hour).Unix()
		span.SetAttributes(attribute.String("auth.type", "service"))
		slog.InfoContext(ctx, "Service account authenticated", "username", username)

	default:
		slog.WarnContext(ctx, "No valid credentials", "client", clientInfo.Name, "host", clientInfo.Host)
		result("rejected")
		return
	}

	span.SetAttributes(attribute.String("auth.user", username))

	// Mint a NATS user JWT bound to the connection's nkey.
	userClaims := jwt.NewUserClaims(userNKey)
	userClaims.Name = username
	userClaims.Audience = issuerAccountID()
	userClaims.BearerToken = true
	userClaims.Permissions = perms
	userClaims.Expires = expiry

	userJWT, err := userClaims.Encode(h.issuerKP)
	if err != nil {
		slog.ErrorContext(ctx, "Failed to encode user claims", "error", err)
		span.RecordError(err)
		result("error")
		return
	}

	response := jwt.NewAuthorizationResponseClaims(userNKey)
	response.Audience = serverID
	response.Jwt = userJWT

	responseJWT, err := response.Encode(h.issuerKP)
	if err != nil {
		slog.ErrorContext(ctx, "Failed to encode auth response", "error", err)
		span.RecordError(err)
		result("error")
		return
	}

	// Seal the response against the server's one-time XKey when it sent one.
	responseData := []byte(responseJWT)
	if serverXKey != "" {
		encrypted, err := h.encryptResponse(responseJWT, serverXKey)
		if err != nil {
			slog.ErrorContext(ctx, "Failed to encrypt response", "error", err)
			span.RecordError(err)
			result("error")
			return
		}
		responseData = encrypted
	}

	if err := msg.Respond(responseData); err != nil {
		slog.ErrorContext(ctx, "Failed to send auth response", "error", err)
		span.RecordError(err)
		result("error")
		return
	}

	result("authorized")
	slog.InfoContext(ctx, "Authorized", "user", username, "nkey", userNKey[:16]+"...")
}

// decryptRequest decrypts the auth callout request payload using XKey.
func (h *AuthHandler) decryptRequest(data []byte, serverXKey string) ([]byte, error) {
	// Unencrypted callouts arrive as a bare JWT ("ey...").
	if len(data) > 2 && data[0] == 'e' && data[1] == 'y' {
		return data, nil
	}

	decrypted, err := h.xkeyKP.Open(data, serverXKey)
	if err != nil {
		return nil, fmt.Errorf("xkey decryption failed (serverXKey=%s): %w", serverXKey, err)
	}

	return decrypted, nil
}

// encryptResponse encrypts the auth response JWT using the server's one-time XKey.
func (h *AuthHandler) encryptResponse(responseJWT string, serverXKey string) ([]byte, error) {
	encrypted, err := h.xkeyKP.Seal([]byte(responseJWT), serverXKey)
	if err != nil {
		return nil, fmt.Errorf("failed to encrypt response: %w", err)
	}
	return encrypted, nil
}

// issuerAccountID returns a stable audience identifier.
func issuerAccountID() string {
	return "CHAT"
}
