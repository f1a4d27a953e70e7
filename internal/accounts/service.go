package accounts

import (
	"context"
	"regexp"
	"strings"

	crerr "github.com/cockroachdb/errors"
	"github.com/go-playground/validator/v10"
	"golang.org/x/crypto/bcrypt"
)

var (
	ErrUsernameTaken      = crerr.New("username already taken")
	ErrInvalidCredentials = crerr.New("invalid username or password")
	ErrInvalidSignup      = crerr.New("invalid signup")
)

var usernamePattern = regexp.MustCompile(`^[A-Za-z0-9_]+$`)

type Credentials struct {
	Username string `json:"username" validate:"required,min=3,max=150,username"`
	Password string `json:"password" validate:"required,min=8,max=72"`
}

type Service struct {
	store    Store
	validate *validator.Validate
	cost     int
}

func NewService(store Store) *Service {
	return newService(store, bcrypt.DefaultCost)
}

func newService(store Store, cost int) *Service {
	v := validator.New()
	_ = v.RegisterValidation("username", func(fl validator.FieldLevel) bool {
		return usernamePattern.MatchString(fl.Field().String())
	})
	return &Service{store: store, validate: v, cost: cost}
}

// Register validates and stores a new user.
func (s *Service) Register(ctx context.Context, c Credentials) (User, error) {
	c.Username = strings.TrimSpace(c.Username)
	if err := s.validate.Struct(c); err != nil {
		return User{}, crerr.Mark(crerr.Wrap(err, "validate signup"), ErrInvalidSignup)
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(c.Password), s.cost)
	if err != nil {
		return User{}, crerr.Wrap(err, "hash password")
	}
	return s.store.Create(ctx, c.Username, string(hash))
}

// Authenticate never says which half of the credentials was wrong.
func (s *Service) Authenticate(ctx context.Context, c Credentials) (User, error) {
	u, ok, err := s.store.ByUsername(ctx, strings.TrimSpace(c.Username))
	if err != nil {
		return User{}, err
	}
	if !ok {
		return User{}, ErrInvalidCredentials
	}
	if err := bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(c.Password)); err != nil {
		return User{}, ErrInvalidCredentials
	}
	return u, nil
}
