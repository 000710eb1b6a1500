// Package fakebackend runs in-process stand-ins for the budget and health
// services. Both validate HS256 bearer tokens against one shared secret,
// like the real deployment.
package fakebackend

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"

	"octopus/internal/core"
)

// Collection paths served by each backend.
var (
	BudgetPaths = []string{"/api/subscriptions", "/api/accounts", "/api/income", "/api/debts"}
	HealthPaths = []string{"/api/health/weight", "/api/health/exercises", "/api/health/meals", "/api/health/goals"}
)

// Fault makes every request to a path fail with Status, optionally after
// Delay. A zero Status only delays.
type Fault struct {
	Status int
	Delay  time.Duration
}

type Backend struct {
	domain core.Domain
	secret []byte
	srv    *httptest.Server

	mu     sync.Mutex
	users  map[string]string
	items  map[string][]map[string]any
	nextID int64
	faults map[string]Fault
	hits   map[string]int
}

func init() {
	gin.SetMode(gin.TestMode)
}

// New starts a backend for domain signing and validating with secret.
func New(domain core.Domain, secret []byte) *Backend {
	b := &Backend{
		domain: domain,
		secret: secret,
		users:  map[string]string{},
		items:  map[string][]map[string]any{},
		faults: map[string]Fault{},
		hits:   map[string]int{},
	}
	paths := BudgetPaths
	if domain == core.DomainHealth {
		paths = HealthPaths
	}
	for _, p := range paths {
		b.items[p] = nil
	}
	b.srv = httptest.NewServer(b.router(paths))
	return b
}

// Pair starts a budget and a health backend sharing one secret.
func Pair(secret []byte) (budget, health *Backend) {
	return New(core.DomainBudget, secret), New(core.DomainHealth, secret)
}

func (b *Backend) URL() string { return b.srv.URL }

func (b *Backend) Close() { b.srv.Close() }

// AddUser registers a user directly.
func (b *Backend) AddUser(username, password string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.users[username] = password
}

// Seed appends raw items to a collection, assigning ids to those without one.
func (b *Backend) Seed(path string, items ...map[string]any) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, it := range items {
		if _, ok := it["id"]; !ok {
			b.nextID++
			it["id"] = b.nextID
		}
		b.items[path] = append(b.items[path], it)
	}
}

// SetFault installs or clears (zero Fault) a fault for path.
func (b *Backend) SetFault(path string, f Fault) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if f == (Fault{}) {
		delete(b.faults, path)
		return
	}
	b.faults[path] = f
}

// Hits returns how many requests reached path (any method).
func (b *Backend) Hits(path string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.hits[path]
}

// Count returns the number of stored items in a collection.
func (b *Backend) Count(path string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.items[path])
}

// IssueToken signs a token for username valid for ttl.
func (b *Backend) IssueToken(username string, ttl time.Duration) string {
	claims := jwt.RegisteredClaims{
		Subject:   username,
		Issuer:    string(b.domain),
		IssuedAt:  jwt.NewNumericDate(time.Now()),
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(ttl)),
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(b.secret)
	if err != nil {
		panic(err)
	}
	return signed
}

func (b *Backend) router(paths []string) http.Handler {
	r := gin.New()
	r.Use(b.countHits(), b.applyFaults())

	r.POST("/api/auth/register", b.register)
	r.POST("/api/auth/login", b.login)

	api := r.Group("/", b.requireToken())
	for _, p := range paths {
		p := p
		api.GET(p, func(c *gin.Context) { b.list(c, p) })
		api.POST(p, func(c *gin.Context) { b.create(c, p) })
		api.DELETE(p+"/:id", func(c *gin.Context) { b.remove(c, p) })
	}
	if b.domain == core.DomainBudget {
		api.PUT("/api/debts/:id", func(c *gin.Context) { b.update(c, "/api/debts") })
	}
	return r
}

func (b *Backend) countHits() gin.HandlerFunc {
	return func(c *gin.Context) {
		b.mu.Lock()
		b.hits[collectionPath(c.Request.URL.Path)]++
		b.mu.Unlock()
		c.Next()
	}
}

func (b *Backend) applyFaults() gin.HandlerFunc {
	return func(c *gin.Context) {
		b.mu.Lock()
		f, ok := b.faults[collectionPath(c.Request.URL.Path)]
		b.mu.Unlock()
		if !ok {
			c.Next()
			return
		}
		if f.Delay > 0 {
			select {
			case <-time.After(f.Delay):
			case <-c.Request.Context().Done():
				c.AbortWithStatus(http.StatusServiceUnavailable)
				return
			}
		}
		if f.Status != 0 {
			c.AbortWithStatusJSON(f.Status, gin.H{"success": false, "message": http.StatusText(f.Status)})
			return
		}
		c.Next()
	}
}

func (b *Backend) requireToken() gin.HandlerFunc {
	return func(c *gin.Context) {
		raw, ok := strings.CutPrefix(c.GetHeader("Authorization"), "Bearer ")
		if !ok {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing bearer token"})
			return
		}
		_, err := jwt.Parse(raw, func(t *jwt.Token) (any, error) {
			return b.secret, nil
		}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
		if err != nil {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "invalid token"})
			return
		}
		c.Next()
	}
}

type credentials struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

func (b *Backend) register(c *gin.Context) {
	var req credentials
	if err := c.ShouldBindJSON(&req); err != nil || req.Username == "" || req.Password == "" {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "message": "username and password are required"})
		return
	}
	b.mu.Lock()
	_, exists := b.users[req.Username]
	if !exists {
		b.users[req.Username] = req.Password
		b.nextID++
	}
	id := b.nextID
	b.mu.Unlock()

	if exists {
		c.JSON(http.StatusConflict, gin.H{"success": false, "message": "username already taken"})
		return
	}
	c.JSON(http.StatusCreated, gin.H{"success": true, "message": "user created", "userId": strconv.FormatInt(id, 10)})
}

func (b *Backend) login(c *gin.Context) {
	var req credentials
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "message": "invalid body"})
		return
	}
	b.mu.Lock()
	pw, ok := b.users[req.Username]
	b.mu.Unlock()
	if !ok || pw != req.Password {
		c.JSON(http.StatusUnauthorized, gin.H{"success": false, "message": "invalid credentials"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "message": "ok", "token": b.IssueToken(req.Username, time.Hour)})
}

func (b *Backend) list(c *gin.Context, path string) {
	b.mu.Lock()
	items := append([]map[string]any{}, b.items[path]...)
	b.mu.Unlock()
	b.respond(c, http.StatusOK, items)
}

func (b *Backend) create(c *gin.Context, path string) {
	item, ok := bindItem(c)
	if !ok {
		return
	}
	b.mu.Lock()
	b.nextID++
	item["id"] = b.nextID
	b.items[path] = append(b.items[path], item)
	b.mu.Unlock()
	b.respond(c, http.StatusCreated, item)
}

func (b *Backend) update(c *gin.Context, path string) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid id"})
		return
	}
	item, ok := bindItem(c)
	if !ok {
		return
	}
	item["id"] = id

	b.mu.Lock()
	defer b.mu.Unlock()
	for i, existing := range b.items[path] {
		if sameID(existing["id"], id) {
			b.items[path][i] = item
			c.JSON(http.StatusOK, item)
			return
		}
	}
	c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
}

func (b *Backend) remove(c *gin.Context, path string) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "message": "invalid id"})
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	items := b.items[path]
	for i, existing := range items {
		if sameID(existing["id"], id) {
			b.items[path] = append(items[:i:i], items[i+1:]...)
			c.JSON(http.StatusOK, gin.H{"success": true, "message": "deleted"})
			return
		}
	}
	c.JSON(http.StatusOK, gin.H{"success": false, "message": fmt.Sprintf("item %d not found", id)})
}

// respond writes bare JSON for budget and a {success,data} envelope for health.
func (b *Backend) respond(c *gin.Context, status int, payload any) {
	if b.domain == core.DomainHealth {
		c.JSON(status, gin.H{"success": true, "data": payload})
		return
	}
	c.JSON(status, payload)
}

func bindItem(c *gin.Context) (map[string]any, bool) {
	var item map[string]any
	dec := json.NewDecoder(c.Request.Body)
	dec.UseNumber()
	if err := dec.Decode(&item); err != nil || item == nil {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "message": "invalid body"})
		return nil, false
	}
	return item, true
}

func sameID(v any, id int64) bool {
	switch n := v.(type) {
	case int64:
		return n == id
	case int:
		return int64(n) == id
	case float64:
		return int64(n) == id
	case json.Number:
		got, err := n.Int64()
		return err == nil && got == id
	}
	return false
}

// collectionPath strips a trailing /{id} so faults and hits key on the
// collection.
func collectionPath(p string) string {
	i := strings.LastIndex(p, "/")
	if i > 0 {
		if _, err := strconv.ParseInt(p[i+1:], 10, 64); err == nil {
			return p[:i]
		}
	}
	return p
}

// ErrNoSuchPath is returned by SeedJSON for unknown collections.
var ErrNoSuchPath = errors.New("unknown collection path")

// SeedJSON decodes a JSON array and seeds it into path.
func (b *Backend) SeedJSON(path, raw string) error {
	b.mu.Lock()
	_, ok := b.items[path]
	b.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrNoSuchPath, path)
	}
	var items []map[string]any
	dec := json.NewDecoder(strings.NewReader(raw))
	dec.UseNumber()
	if err := dec.Decode(&items); err != nil {
		return fmt.Errorf("decode seed for %s: %w", path, err)
	}
	b.Seed(path, items...)
	return nil
}
