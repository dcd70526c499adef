package service

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/crypto/bcrypt"

	"github.com/99minutos/identity-service/internal/core/domain"
	"github.com/99minutos/identity-service/internal/core/ports"
)

// ---------------------------------------------------------------------------
// Stubs
// ---------------------------------------------------------------------------

type stubCredentialStore struct {
	users   map[string]*domain.User
	nextID  int
	findErr error // if set, every lookup returns this error
}

func newStubCredentialStore() *stubCredentialStore {
	return &stubCredentialStore{users: make(map[string]*domain.User)}
}

func cloneUser(u *domain.User) *domain.User {
	if u == nil {
		return nil
	}
	clone := *u
	return &clone
}

func (r *stubCredentialStore) Create(_ context.Context, user *domain.User) (*domain.User, error) {
	if _, exists := r.users[user.Username]; exists {
		return nil, domain.ErrUserExists
	}
	for _, u := range r.users {
		if u.Email == user.Email {
			return nil, domain.ErrEmailExists
		}
	}
	r.nextID++
	copy := cloneUser(user)
	copy.ID = fmt.Sprintf("user-%d", r.nextID)
	r.users[copy.Username] = cloneUser(copy)
	return copy, nil
}

func (r *stubCredentialStore) FindByUsername(_ context.Context, username string) (*domain.User, error) {
	if r.findErr != nil {
		return nil, r.findErr
	}
	u, ok := r.users[username]
	if !ok {
		return nil, domain.ErrUserNotFound
	}
	return cloneUser(u), nil
}

func (r *stubCredentialStore) FindByUsernameOrEmail(ctx context.Context, username, email string) (*domain.User, error) {
	u, err := r.FindByUsername(ctx, username)
	if !errors.Is(err, domain.ErrUserNotFound) {
		return u, err
	}
	for _, u := range r.users {
		if email != "" && u.Email == email {
			return cloneUser(u), nil
		}
	}
	return nil, domain.ErrUserNotFound
}

// stubOTPStore mirrors the single-slot, compare-and-delete contract of the
// real stores under a mutex.
type stubOTPStore struct {
	mu         sync.Mutex
	challenges map[string]domain.OTPChallenge
	now        func() time.Time
	saves      int
	saveErr    error
}

func newStubOTPStore(now func() time.Time) *stubOTPStore {
	return &stubOTPStore{challenges: make(map[string]domain.OTPChallenge), now: now}
}

func (s *stubOTPStore) Save(_ context.Context, c domain.OTPChallenge) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.saveErr != nil {
		return s.saveErr
	}
	s.saves++
	s.challenges[c.Email] = c
	return nil
}

func (s *stubOTPStore) ConsumeIfMatch(_ context.Context, email, codeHash string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.challenges[email]
	if !ok || c.CodeHash != codeHash || c.Expired(s.now()) {
		return false, nil
	}
	delete(s.challenges, email)
	return true, nil
}

func (s *stubOTPStore) live() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.challenges)
}

type sentMail struct {
	to, subject, body string
}

type stubMailer struct {
	sent []sentMail
	err  error
}

func (m *stubMailer) Send(_ context.Context, to, subject, body string) error {
	if m.err != nil {
		return m.err
	}
	m.sent = append(m.sent, sentMail{to: to, subject: subject, body: body})
	return nil
}

// fixedCodes hands out codes in order, repeating the last one.
type fixedCodes struct {
	codes []string
	i     int
}

func (g *fixedCodes) Generate() (string, error) {
	code := g.codes[g.i]
	if g.i < len(g.codes)-1 {
		g.i++
	}
	return code, nil
}

type fixedClock struct{ t time.Time }

func (c *fixedClock) Now() time.Time { return c.t }

// fixtureNow is the frozen time every auth fixture runs at.
var fixtureNow = time.Date(2026, 3, 1, 9, 30, 0, 0, time.UTC)

var testSecret = base64.StdEncoding.EncodeToString([]byte("0123456789abcdef0123456789abcdef"))

// ---------------------------------------------------------------------------
// Helper: build a service around the stubs.
// ---------------------------------------------------------------------------

type authFixture struct {
	svc    *AuthService
	users  *stubCredentialStore
	otps   *stubOTPStore
	mailer *stubMailer
	codec  *TokenCodec
}

func newAuthFixture(t *testing.T, codes ...string) *authFixture {
	t.Helper()
	if len(codes) == 0 {
		codes = []string{"123456"}
	}

	clock := &fixedClock{t: fixtureNow}
	users := newStubCredentialStore()
	otps := newStubOTPStore(clock.Now)
	mailer := &stubMailer{}
	codec, err := NewTokenCodec(testSecret, time.Hour, clock)
	if err != nil {
		t.Fatalf("NewTokenCodec: %v", err)
	}
	ledger := NewOTPLedger(otps, &fixedCodes{codes: codes}, DefaultOTPTTL, clock)
	svc := NewAuthService(users, ledger, mailer, NewBcryptHasher(bcrypt.MinCost), codec, clock, zerolog.Nop())

	return &authFixture{svc: svc, users: users, otps: otps, mailer: mailer, codec: codec}
}

func (f *authFixture) signup(t *testing.T, username, email, password string) *ports.AuthResult {
	t.Helper()
	ctx := context.Background()
	if err := f.svc.BeginSignup(ctx, ports.SignupInput{Username: username, Email: email, Password: password}); err != nil {
		t.Fatalf("BeginSignup: %v", err)
	}
	code := lastCode(t, f.mailer)
	res, err := f.svc.CompleteSignup(ctx, ports.CompleteSignupInput{Email: email, Code: code, Username: username, Password: password})
	if err != nil {
		t.Fatalf("CompleteSignup: %v", err)
	}
	return res
}

// lastCode pulls the code out of "Your OTP is: NNNNNN. ..."
func lastCode(t *testing.T, m *stubMailer) string {
	t.Helper()
	if len(m.sent) == 0 {
		t.Fatalf("no mail sent")
	}
	body := m.sent[len(m.sent)-1].body
	i := strings.Index(body, ": ")
	if i < 0 || len(body) < i+8 {
		t.Fatalf("unexpected mail body %q", body)
	}
	return body[i+2 : i+8]
}

// ---------------------------------------------------------------------------
// Tests
// ---------------------------------------------------------------------------

func TestAuthService_Signup_HappyPath(t *testing.T) {
	f := newAuthFixture(t, "123456")
	ctx := context.Background()

	if err := f.svc.BeginSignup(ctx, ports.SignupInput{Username: "alice", Email: "a@x.com", Password: "pw1"}); err != nil {
		t.Fatalf("BeginSignup returned error: %v", err)
	}
	if len(f.mailer.sent) != 1 {
		t.Fatalf("expected 1 mail, got %d", len(f.mailer.sent))
	}
	mail := f.mailer.sent[0]
	if mail.to != "a@x.com" || mail.subject != "Your OTP for Signup" {
		t.Fatalf("unexpected mail: %+v", mail)
	}
	if mail.body != "Your OTP is: 123456. It is valid for 5 minutes." {
		t.Fatalf("unexpected body: %q", mail.body)
	}

	res, err := f.svc.CompleteSignup(ctx, ports.CompleteSignupInput{Email: "a@x.com", Code: "123456", Username: "alice", Password: "pw1"})
	if err != nil {
		t.Fatalf("CompleteSignup returned error: %v", err)
	}
	if res.User.Username != "alice" || res.User.Email != "a@x.com" || res.User.Role != domain.RoleUser {
		t.Fatalf("unexpected user: %+v", res.User)
	}
	if res.User.PasswordHash == "pw1" {
		t.Fatalf("expected password to be hashed")
	}
	if !res.User.CreatedAt.Equal(fixtureNow) || !res.User.UpdatedAt.Equal(fixtureNow) {
		t.Fatalf("expected timestamps from the injected clock, got %v / %v", res.User.CreatedAt, res.User.UpdatedAt)
	}
	if !res.ExpiresAt.Equal(fixtureNow.Add(time.Hour)) {
		t.Fatalf("unexpected token expiry %v", res.ExpiresAt)
	}

	claims, err := f.codec.Verify(res.Token)
	if err != nil {
		t.Fatalf("token invalid: %v", err)
	}
	if claims.Subject != "alice" || claims.Email != "a@x.com" || claims.UserID != res.User.ID {
		t.Fatalf("unexpected claims: %+v", claims)
	}
	if f.otps.live() != 0 {
		t.Fatalf("expected challenge to be consumed")
	}
}

func TestAuthService_BeginSignup_UsernameExists(t *testing.T) {
	f := newAuthFixture(t, "111111", "222222")
	f.signup(t, "alice", "a@x.com", "pw1")
	saves, mails := f.otps.saves, len(f.mailer.sent)

	err := f.svc.BeginSignup(context.Background(), ports.SignupInput{Username: "alice", Email: "a@x.com", Password: "pw2"})
	if !errors.Is(err, domain.ErrUserExists) {
		t.Fatalf("expected ErrUserExists, got %v", err)
	}
	if f.otps.saves != saves || len(f.mailer.sent) != mails {
		t.Fatalf("expected no OTP to be issued after the username check failed")
	}
}

func TestAuthService_CompleteSignup_WrongCodeCreatesNothing(t *testing.T) {
	f := newAuthFixture(t, "123456")
	ctx := context.Background()
	_ = f.svc.BeginSignup(ctx, ports.SignupInput{Username: "alice", Email: "a@x.com", Password: "pw1"})

	_, err := f.svc.CompleteSignup(ctx, ports.CompleteSignupInput{Email: "a@x.com", Code: "654321", Username: "alice", Password: "pw1"})
	if !errors.Is(err, domain.ErrInvalidOTP) {
		t.Fatalf("expected ErrInvalidOTP, got %v", err)
	}
	if len(f.users.users) != 0 {
		t.Fatalf("expected no identity to be created")
	}

	// Still in challenge_issued: the right code works.
	if _, err := f.svc.CompleteSignup(ctx, ports.CompleteSignupInput{Email: "a@x.com", Code: "123456", Username: "alice", Password: "pw1"}); err != nil {
		t.Fatalf("retry with correct code failed: %v", err)
	}
}

func TestAuthService_CompleteSignup_CodeIsSingleUse(t *testing.T) {
	f := newAuthFixture(t, "123456")
	ctx := context.Background()
	f.signup(t, "alice", "a@x.com", "pw1")

	_, err := f.svc.CompleteSignup(ctx, ports.CompleteSignupInput{Email: "a@x.com", Code: "123456", Username: "alice2", Password: "pw1"})
	if !errors.Is(err, domain.ErrInvalidOTP) {
		t.Fatalf("expected ErrInvalidOTP on reuse, got %v", err)
	}
	if len(f.users.users) != 1 {
		t.Fatalf("expected exactly one identity, got %d", len(f.users.users))
	}
}

func TestAuthService_CompleteSignup_NoChallenge(t *testing.T) {
	f := newAuthFixture(t)
	_, err := f.svc.CompleteSignup(context.Background(), ports.CompleteSignupInput{Email: "nobody@x.com", Code: "123456", Username: "nobody", Password: "pw"})
	if !errors.Is(err, domain.ErrInvalidOTP) {
		t.Fatalf("expected ErrInvalidOTP, got %v", err)
	}
}

func TestAuthService_CompleteSignup_EmailExists(t *testing.T) {
	f := newAuthFixture(t, "111111", "222222")
	f.signup(t, "alice", "a@x.com", "pw1")
	ctx := context.Background()

	if err := f.svc.BeginSignup(ctx, ports.SignupInput{Username: "alice2", Email: "A@X.com", Password: "pw2"}); err != nil {
		t.Fatalf("BeginSignup: %v", err)
	}
	_, err := f.svc.CompleteSignup(ctx, ports.CompleteSignupInput{Email: "a@x.com", Code: "222222", Username: "alice2", Password: "pw2"})
	if !errors.Is(err, domain.ErrEmailExists) {
		t.Fatalf("expected ErrEmailExists, got %v", err)
	}
}

func TestAuthService_BeginSignup_DeliveryFailureKeepsChallenge(t *testing.T) {
	f := newAuthFixture(t, "123456")
	f.mailer.err = errors.New("smtp: connection refused")
	ctx := context.Background()

	err := f.svc.BeginSignup(ctx, ports.SignupInput{Username: "alice", Email: "a@x.com", Password: "pw1"})
	if !errors.Is(err, domain.ErrDeliveryFailed) {
		t.Fatalf("expected ErrDeliveryFailed, got %v", err)
	}
	if f.otps.live() != 1 {
		t.Fatalf("expected the challenge to stay issued")
	}

	if _, err := f.svc.CompleteSignup(ctx, ports.CompleteSignupInput{Email: "a@x.com", Code: "123456", Username: "alice", Password: "pw1"}); err != nil {
		t.Fatalf("code delivered out-of-band should still work: %v", err)
	}
}

func TestAuthService_BeginSignup_StoreUnavailable(t *testing.T) {
	f := newAuthFixture(t)
	f.users.findErr = fmt.Errorf("find user: %w: %w", domain.ErrUnavailable, errors.New("connection reset"))

	err := f.svc.BeginSignup(context.Background(), ports.SignupInput{Username: "alice", Email: "a@x.com", Password: "pw1"})
	if !errors.Is(err, domain.ErrUnavailable) {
		t.Fatalf("expected ErrUnavailable, got %v", err)
	}
	if errors.Is(err, domain.ErrUserExists) || errors.Is(err, domain.ErrUserNotFound) {
		t.Fatalf("store fault must not look like a domain error: %v", err)
	}
	if f.otps.saves != 0 {
		t.Fatalf("expected no OTP to be issued")
	}
}

func TestAuthService_BeginSignup_Validation(t *testing.T) {
	f := newAuthFixture(t)
	err := f.svc.BeginSignup(context.Background(), ports.SignupInput{Username: " ", Email: "a@x.com", Password: "pw"})
	if !errors.Is(err, domain.ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput, got %v", err)
	}
}

func TestAuthService_Login_Success(t *testing.T) {
	f := newAuthFixture(t)
	signed := f.signup(t, "carol", "carol@example.com", "s3cret")

	res, err := f.svc.Login(context.Background(), ports.LoginInput{Username: "carol", Password: "s3cret"})
	if err != nil {
		t.Fatalf("login failed: %v", err)
	}
	if res.Token == "" || res.User.ID != signed.User.ID {
		t.Fatalf("unexpected result: %+v", res)
	}
}

func TestAuthService_Login_FallsBackToEmail(t *testing.T) {
	f := newAuthFixture(t)
	f.signup(t, "carol", "carol@example.com", "s3cret")

	res, err := f.svc.Login(context.Background(), ports.LoginInput{Username: "unknown", Email: "carol@example.com", Password: "s3cret"})
	if err != nil {
		t.Fatalf("login failed: %v", err)
	}
	claims, err := f.svc.VerifyBearerToken(context.Background(), res.Token)
	if err != nil {
		t.Fatalf("VerifyBearerToken: %v", err)
	}
	if claims.Subject != "carol" {
		t.Fatalf("expected subject carol, got %s", claims.Subject)
	}
}

func TestAuthService_Login_InvalidPassword(t *testing.T) {
	f := newAuthFixture(t)
	f.signup(t, "alice", "a@x.com", "pw1")

	if _, err := f.svc.Login(context.Background(), ports.LoginInput{Username: "alice", Email: "a@x.com", Password: "wrongpw"}); !errors.Is(err, domain.ErrInvalidCredentials) {
		t.Fatalf("expected ErrInvalidCredentials, got %v", err)
	}
}

func TestAuthService_Login_UserNotFound(t *testing.T) {
	f := newAuthFixture(t)

	if _, err := f.svc.Login(context.Background(), ports.LoginInput{Username: "bob", Email: "b@x.com", Password: "anything"}); !errors.Is(err, domain.ErrUserNotFound) {
		t.Fatalf("expected ErrUserNotFound, got %v", err)
	}
}

func TestAuthService_VerifyBearerToken_Invalid(t *testing.T) {
	f := newAuthFixture(t)

	if _, err := f.svc.VerifyBearerToken(context.Background(), "not-a-token"); !errors.Is(err, domain.ErrTokenInvalid) {
		t.Fatalf("expected ErrTokenInvalid, got %v", err)
	}
}

func TestAuthService_FindUser(t *testing.T) {
	f := newAuthFixture(t)
	f.signup(t, "alice", "a@x.com", "pw1")

	u, err := f.svc.FindUser(context.Background(), "alice")
	if err != nil || u.Email != "a@x.com" {
		t.Fatalf("unexpected result: %+v, %v", u, err)
	}
	if _, err := f.svc.FindUser(context.Background(), "ghost"); !errors.Is(err, domain.ErrUserNotFound) {
		t.Fatalf("expected ErrUserNotFound, got %v", err)
	}
}

func TestOTPMailBody(t *testing.T) {
	tests := []struct {
		ttl  time.Duration
		want string
	}{
		{5 * time.Minute, "Your OTP is: 123456. It is valid for 5 minutes."},
		{time.Minute, "Your OTP is: 123456. It is valid for 1 minute."},
		{90 * time.Second, "Your OTP is: 123456. It is valid for 90 seconds."},
		{30 * time.Second, "Your OTP is: 123456. It is valid for 30 seconds."},
		{time.Second, "Your OTP is: 123456. It is valid for 1 second."},
		{1500 * time.Millisecond, "Your OTP is: 123456. It is valid for 2 seconds."},
		{0, "Your OTP is: 123456."},
	}
	for _, tt := range tests {
		if got := otpMailBody("123456", tt.ttl); got != tt.want {
			t.Errorf("otpMailBody(%v) = %q, want %q", tt.ttl, got, tt.want)
		}
	}
}
