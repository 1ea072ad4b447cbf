package httpapp

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/agentpay/tagbook/internal/auth"
	"github.com/agentpay/tagbook/internal/config"
	"github.com/agentpay/tagbook/internal/model"
	"github.com/agentpay/tagbook/internal/objects"
	"github.com/agentpay/tagbook/internal/rate"
	"github.com/agentpay/tagbook/internal/store"

	"github.com/shopspring/decimal"
)

var (
	usernameRE  = regexp.MustCompile(`^[a-z0-9_]{3,20}$`)
	objectKeyRE = regexp.MustCompile(`^tokens/[A-Za-z0-9_-]+/(logo\.png|metadata\.json)$`)
)

type Server struct {
	store   store.Store
	auth    *auth.Service
	objects objects.Store
	limiter rate.Limiter
	cfg     config.Config
}

func NewServer(store store.Store, authSvc *auth.Service, objStore objects.Store, limiter rate.Limiter, cfg config.Config) *Server {
	return &Server{store: store, auth: authSvc, objects: objStore, limiter: limiter, cfg: cfg}
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if strings.HasPrefix(r.URL.Path, "/objects/") {
		if r.Method != http.MethodPut {
			methodNotAllowed(w)
			return
		}
		s.handleUploadObject(w, r, strings.TrimPrefix(r.URL.Path, "/objects/"))
		return
	}

	segments := splitPath(r.URL.Path)

	switch {
	case len(segments) == 1 && segments[0] == "health":
		if r.Method == http.MethodGet {
			s.handleHealth(w, r)
			return
		}
	case len(segments) == 1 && segments[0] == "version":
		if r.Method == http.MethodGet {
			s.handleVersion(w, r)
			return
		}
	case len(segments) == 2 && segments[0] == "tags" && segments[1] == "register":
		if r.Method == http.MethodPost {
			s.handleRegisterTag(w, r)
			return
		}
	case len(segments) == 2 && segments[0] == "tags" && segments[1] == "me":
		if r.Method == http.MethodPatch {
			s.handleUpdateWallet(w, r)
			return
		}
	case len(segments) == 2 && segments[0] == "tags":
		if r.Method == http.MethodGet {
			s.handleLookupTag(w, r, segments[1])
			return
		}
	case len(segments) == 2 && segments[0] == "receipts" && segments[1] == "create":
		if r.Method == http.MethodPost {
			s.handleCreateReceipt(w, r)
			return
		}
	case len(segments) == 1 && segments[0] == "receipts":
		if r.Method == http.MethodGet {
			s.handleListReceipts(w, r)
			return
		}
	case len(segments) == 2 && segments[0] == "receipts":
		if r.Method == http.MethodGet {
			s.handleGetReceipt(w, r, segments[1])
			return
		}
	}

	notFound(w)
}

// handleRegisterTag godoc
//
//	@Summary		Register a tag
//	@Description	Claim a username and receive the one-time secret for it. The secret is never retrievable again.
//	@Tags			Tags
//	@Accept			json
//	@Produce		json
//	@Param			tag	body		object{username=string,walletAddress=string}	true	"Tag data"
//	@Success		201	{object}	map[string]any		"Tag with one-time secret"
//	@Failure		400	{object}	map[string]string	"Validation error"
//	@Failure		409	{object}	map[string]string	"Username taken"
//	@Router			/tags/register [post]
func (s *Server) handleRegisterTag(w http.ResponseWriter, r *http.Request) {
	if !s.allowRateLimit(w, r, "register", s.cfg.RateLimits.RegisterPerMinute) {
		return
	}
	var req struct {
		Username      string `json:"username"`
		WalletAddress string `json:"walletAddress"`
	}
	if err := readJSON(r.Body, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	username := strings.ToLower(strings.TrimSpace(req.Username))
	if !usernameRE.MatchString(username) {
		writeError(w, http.StatusBadRequest, errors.New("username must be 3-20 chars of a-z, 0-9, _"))
		return
	}

	secret, err := auth.GenerateSecret()
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	hash, err := auth.HashSecret(secret)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}

	tag := model.Tag{
		Username:      username,
		WalletAddress: strings.TrimSpace(req.WalletAddress),
	}
	tag.CredentialHash = hash
	if err := s.store.CreateTag(r.Context(), &tag); err != nil {
		if errors.Is(err, store.ErrDuplicateUsername) {
			writeError(w, http.StatusConflict, err)
			return
		}
		writeError(w, http.StatusInternalServerError, err)
		return
	}

	// The only response that ever carries the plaintext secret.
	writeJSON(w, http.StatusCreated, map[string]any{
		"tag":    tag,
		"secret": secret,
	})
}

// handleUpdateWallet godoc
//
//	@Summary		Update own wallet address
//	@Description	Set the wallet address on the caller's own tag. Requires the tag secret.
//	@Tags			Tags
//	@Accept			json
//	@Produce		json
//	@Security		BearerAuth
//	@Param			body	body		object{walletAddress=string}	true	"New wallet address"
//	@Success		200		{object}	model.Tag
//	@Failure		400		{object}	map[string]string	"Validation error"
//	@Failure		401		{object}	map[string]string	"Invalid credential"
//	@Router			/tags/me [patch]
func (s *Server) handleUpdateWallet(w http.ResponseWriter, r *http.Request) {
	tag, ok := s.requireIdentity(w, r)
	if !ok {
		return
	}
	var req struct {
		WalletAddress string `json:"walletAddress"`
	}
	if err := readJSON(r.Body, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	walletAddress := strings.TrimSpace(req.WalletAddress)
	if walletAddress == "" {
		writeError(w, http.StatusBadRequest, errors.New("walletAddress required"))
		return
	}

	if err := s.store.UpdateWalletAddress(r.Context(), tag.ID, walletAddress); err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	tag.WalletAddress = walletAddress
	writeJSON(w, http.StatusOK, tag)
}

// handleLookupTag godoc
//
//	@Summary		Look up a tag
//	@Description	Exact-match lookup by username. No prefix or listing capability exists.
//	@Tags			Tags
//	@Produce		json
//	@Param			username	path		string	true	"Username"
//	@Success		200			{object}	model.Tag
//	@Failure		404			{object}	map[string]string	"Unknown tag"
//	@Router			/tags/{username} [get]
func (s *Server) handleLookupTag(w http.ResponseWriter, r *http.Request, username string) {
	tag, err := s.store.GetTagByUsername(r.Context(), strings.ToLower(username))
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			notFound(w)
			return
		}
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, tag)
}

// handleCreateReceipt godoc
//
//	@Summary		Create a receipt
//	@Description	Record an immutable proof between two tags. The caller must be one of the two parties.
//	@Tags			Receipts
//	@Accept			json
//	@Produce		json
//	@Security		BearerAuth
//	@Param			receipt	body		object{signature=string,memo=string,fromTag=string,toTag=string,amount=string}	true	"Receipt data"
//	@Success		201		{object}	map[string]any		"Receipt with public URL"
//	@Failure		400		{object}	map[string]string	"Validation error or unknown party"
//	@Failure		401		{object}	map[string]string	"Invalid credential"
//	@Failure		403		{object}	map[string]string	"Caller is not a named party"
//	@Router			/receipts/create [post]
func (s *Server) handleCreateReceipt(w http.ResponseWriter, r *http.Request) {
	if !s.allowRateLimit(w, r, "receipt", s.cfg.RateLimits.ReceiptPerMinute) {
		return
	}
	tag, ok := s.requireIdentity(w, r)
	if !ok {
		return
	}
	var req struct {
		Signature string           `json:"signature"`
		Memo      *string          `json:"memo"`
		FromTag   string           `json:"fromTag"`
		ToTag     string           `json:"toTag"`
		Amount    *decimal.Decimal `json:"amount"`
	}
	if err := readJSON(r.Body, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if strings.TrimSpace(req.Signature) == "" {
		writeError(w, http.StatusBadRequest, errors.New("signature required"))
		return
	}
	if req.Memo == nil {
		writeError(w, http.StatusBadRequest, errors.New("memo required (may be empty)"))
		return
	}
	if req.Amount == nil {
		writeError(w, http.StatusBadRequest, errors.New("amount required"))
		return
	}
	if !req.Amount.IsInteger() || req.Amount.Sign() < 0 {
		writeError(w, http.StatusBadRequest, errors.New("amount must be a non-negative integer"))
		return
	}

	from, err := s.lookupParty(r, req.FromTag)
	if err != nil {
		s.writePartyError(w, req.FromTag, err)
		return
	}
	to, err := s.lookupParty(r, req.ToTag)
	if err != nil {
		s.writePartyError(w, req.ToTag, err)
		return
	}
	if tag.ID != from.ID && tag.ID != to.ID {
		writeError(w, http.StatusForbidden, errors.New("caller must be a named party"))
		return
	}

	receipt := model.Receipt{
		Signature:    req.Signature,
		Memo:         *req.Memo,
		FromTagID:    from.ID,
		ToTagID:      to.ID,
		FromUsername: from.Username,
		ToUsername:   to.Username,
		Amount:       *req.Amount,
		CreatedAt:    time.Now(),
	}
	if err := s.store.CreateReceipt(r.Context(), &receipt); err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}

	writeJSON(w, http.StatusCreated, map[string]any{
		"receipt": receipt,
		"url":     fmt.Sprintf("%s/receipts/%s", strings.TrimSuffix(s.cfg.BaseURL, "/"), receipt.ID),
	})
}

func (s *Server) lookupParty(r *http.Request, username string) (model.Tag, error) {
	username = strings.ToLower(strings.TrimSpace(username))
	if username == "" {
		return model.Tag{}, store.ErrNotFound
	}
	return s.store.GetTagByUsername(r.Context(), username)
}

func (s *Server) writePartyError(w http.ResponseWriter, username string, err error) {
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusBadRequest, fmt.Errorf("unknown tag: %s", strings.ToLower(strings.TrimSpace(username))))
		return
	}
	writeError(w, http.StatusInternalServerError, err)
}

// handleListReceipts godoc
//
//	@Summary		List own receipts
//	@Description	Receipts where the caller is either party, newest first, cursor-paginated.
//	@Tags			Receipts
//	@Produce		json
//	@Security		BearerAuth
//	@Param			limit	query		int		false	"Results per page"	default(20)	maximum(100)
//	@Param			cursor	query		string	false	"Id of the last receipt from the previous page"
//	@Success		200		{object}	map[string]any		"Receipts with optional nextCursor"
//	@Failure		400		{object}	map[string]string	"Invalid cursor"
//	@Failure		401		{object}	map[string]string	"Invalid credential"
//	@Router			/receipts/ [get]
func (s *Server) handleListReceipts(w http.ResponseWriter, r *http.Request) {
	tag, ok := s.requireIdentity(w, r)
	if !ok {
		return
	}
	opts := store.ReceiptListOpts{
		Limit:  parseIntDefault(r.URL.Query().Get("limit"), 20),
		Cursor: r.URL.Query().Get("cursor"),
	}
	receipts, nextCursor, err := s.store.ListReceiptsByTag(r.Context(), tag.ID, opts)
	if err != nil {
		if errors.Is(err, store.ErrInvalidCursor) {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	if receipts == nil {
		receipts = []model.Receipt{}
	}
	resp := map[string]any{"receipts": receipts}
	if nextCursor != "" {
		resp["nextCursor"] = nextCursor
	}
	writeJSON(w, http.StatusOK, resp)
}

// handleGetReceipt godoc
//
//	@Summary		Get a receipt
//	@Description	Fetch one receipt by id. Non-parties receive 404, indistinguishable from a missing id.
//	@Tags			Receipts
//	@Produce		json
//	@Security		BearerAuth
//	@Param			id	path		string	true	"Receipt id"
//	@Success		200	{object}	model.Receipt
//	@Failure		401	{object}	map[string]string	"Invalid credential"
//	@Failure		404	{object}	map[string]string	"Unknown or unauthorized id"
//	@Router			/receipts/{id} [get]
func (s *Server) handleGetReceipt(w http.ResponseWriter, r *http.Request, id string) {
	tag, ok := s.requireIdentity(w, r)
	if !ok {
		return
	}
	receipt, err := s.store.GetReceipt(r.Context(), id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			notFound(w)
			return
		}
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	// A non-party gets the same 404 as a missing id: receipt existence must
	// not be revealed to anyone but the two parties.
	if !isParty(tag, receipt) {
		notFound(w)
		return
	}
	writeJSON(w, http.StatusOK, receipt)
}

// handleUploadObject godoc
//
//	@Summary		Upload an object
//	@Description	Store a blob under a restricted key. No authentication; the key pattern is the restriction.
//	@Tags			Objects
//	@Accept			octet-stream
//	@Produce		json
//	@Param			key	path	string	true	"tokens/<id>/logo.png or tokens/<id>/metadata.json"
//	@Success		200	{object}	map[string]any		"Stored key"
//	@Failure		400	{object}	map[string]string	"Key not allowed"
//	@Failure		413	{object}	map[string]string	"Body too large"
//	@Router			/objects/{key} [put]
func (s *Server) handleUploadObject(w http.ResponseWriter, r *http.Request, key string) {
	if !objectKeyRE.MatchString(key) {
		writeError(w, http.StatusBadRequest, errors.New("key must match tokens/<id>/logo.png or tokens/<id>/metadata.json"))
		return
	}
	if r.ContentLength > s.cfg.MaxObjectBytes {
		writeError(w, http.StatusRequestEntityTooLarge, fmt.Errorf("body exceeds %d bytes", s.cfg.MaxObjectBytes))
		return
	}
	body := http.MaxBytesReader(w, r.Body, s.cfg.MaxObjectBytes)
	defer body.Close()

	if err := s.objects.Put(r.Context(), key, body); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, fmt.Errorf("body exceeds %d bytes", s.cfg.MaxObjectBytes))
			return
		}
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "key": key})
}

// handleHealth godoc
//
//	@Summary		Health check
//	@Description	Reports store and object-store reachability. Dependency failures downgrade to status flags.
//	@Tags			Health
//	@Produce		json
//	@Success		200	{object}	map[string]string	"Per-dependency status"
//	@Router			/health [get]
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	status := map[string]string{"status": "ok", "store": "ok", "objects": "ok"}
	if err := s.store.Ping(r.Context()); err != nil {
		status["store"] = "down"
		status["status"] = "degraded"
	}
	if s.objects == nil {
		status["objects"] = "disabled"
	} else if err := s.objects.Ping(r.Context()); err != nil {
		status["objects"] = "down"
		status["status"] = "degraded"
	}
	writeJSON(w, http.StatusOK, status)
}

func (s *Server) handleVersion(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"version":    s.cfg.Version,
		"commit":     s.cfg.Commit,
		"build_time": s.cfg.BuildTime,
	})
}

// requireIdentity resolves the bearer secret to a tag and writes 401 if it
// cannot. The resolved tag is returned to the handler explicitly; nothing
// about it outlives the request.
func (s *Server) requireIdentity(w http.ResponseWriter, r *http.Request) (model.Tag, bool) {
	authHeader := r.Header.Get("Authorization")
	if !strings.HasPrefix(authHeader, "Bearer ") {
		writeError(w, http.StatusUnauthorized, errors.New("missing bearer secret"))
		return model.Tag{}, false
	}
	secret := strings.TrimSpace(strings.TrimPrefix(authHeader, "Bearer "))
	tag, err := s.auth.Resolve(r.Context(), secret)
	if err != nil {
		if errors.Is(err, auth.ErrNoMatch) {
			writeError(w, http.StatusUnauthorized, errors.New("invalid credential"))
			return model.Tag{}, false
		}
		writeError(w, http.StatusInternalServerError, errors.New("credential resolution failed"))
		return model.Tag{}, false
	}
	return tag, true
}

func isParty(tag model.Tag, receipt model.Receipt) bool {
	return tag.ID == receipt.FromTagID || tag.ID == receipt.ToTagID
}

func (s *Server) allowRateLimit(w http.ResponseWriter, r *http.Request, action string, limit int) bool {
	if limit <= 0 {
		return true
	}
	key := fmt.Sprintf("%s:ip:%s", action, s.clientIP(r))
	if ok, retry := s.limiter.Allow(key, limit, time.Minute); !ok {
		writeRateLimit(w, retry)
		return false
	}
	return true
}

func (s *Server) clientIP(r *http.Request) string {
	if forwarded := r.Header.Get("X-Forwarded-For"); forwarded != "" {
		parts := strings.Split(forwarded, ",")
		return strings.TrimSpace(parts[0])
	}
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	return r.RemoteAddr
}

func readJSON(body io.ReadCloser, dest any) error {
	defer body.Close()
	dec := json.NewDecoder(body)
	dec.DisallowUnknownFields()
	return dec.Decode(dest)
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]any{"error": err.Error()})
}

func writeRateLimit(w http.ResponseWriter, retry time.Duration) {
	w.Header().Set("Retry-After", strconv.Itoa(int(retry.Seconds())))
	writeJSON(w, http.StatusTooManyRequests, map[string]any{
		"error":       "rate limit exceeded",
		"retry_after": int(retry.Seconds()),
	})
}

func notFound(w http.ResponseWriter) {
	writeError(w, http.StatusNotFound, errors.New("not found"))
}

func methodNotAllowed(w http.ResponseWriter) {
	writeError(w, http.StatusMethodNotAllowed, errors.New("method not allowed"))
}

func parseIntDefault(value string, def int) int {
	if value == "" {
		return def
	}
	if n, err := strconv.Atoi(value); err == nil {
		return n
	}
	return def
}

func splitPath(path string) []string {
	path = strings.Trim(path, "/")
	if path == "" {
		return nil
	}
	return strings.Split(path, "/")
}
