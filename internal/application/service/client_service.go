package service

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"

	"go-retainer-tracker/internal/domain"
	"go-retainer-tracker/internal/infrastructure/logger"
	"go-retainer-tracker/internal/infrastructure/store"
)

// ClientService owns every mutation to the ledger. Each mutation
// returns the new canonical state plus the owning client's slug so the
// request layer can address the correct broadcast room.
type ClientService struct {
	store  *store.Store
	logger logger.Logger
}

func NewClientService(st *store.Store, logger logger.Logger) *ClientService {
	return &ClientService{
		store:  st,
		logger: logger.WithField("service", "client"),
	}
}

// ClientView is a client together with its log history and the derived
// hour arithmetic. The admin token never serializes, so the same shape
// serves both the admin and the public dashboard.
type ClientView struct {
	domain.Client
	Logs           []domain.WorkLog `json:"logs"`
	HoursUsed      float64          `json:"hoursUsed"`
	HoursRemaining float64          `json:"hoursRemaining"`
}

// UpdateDetailsParams carries the optional fields of a details update.
// Nil means "leave unchanged"; an empty RefillLink clears the link.
type UpdateDetailsParams struct {
	Name       *string
	RefillLink *string
	TotalHours *float64
}

// CreateClient provisions a new retainer. The returned client carries
// the admin token; this is the only operation that ever exposes it.
func (s *ClientService) CreateClient(ctx context.Context, name string, totalHours float64, refillLink string) (domain.Client, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return domain.Client{}, fmt.Errorf("%w: client name is required", ErrValidation)
	}
	if totalHours <= 0 {
		return domain.Client{}, fmt.Errorf("%w: total hours must be positive", ErrValidation)
	}
	if err := validateRefillLink(refillLink); err != nil {
		return domain.Client{}, err
	}

	now := time.Now().UTC()
	client := domain.Client{
		ID:         uuid.NewString(),
		Name:       name,
		Slug:       slugify(name) + "-" + randomHex(3),
		AdminToken: randomHex(16),
		TotalHours: totalHours,
		RefillLink: refillLink,
		Status:     domain.StatusActive,
		CreatedAt:  now,
		UpdatedAt:  now,
	}

	if err := s.store.CreateClient(ctx, &client); err != nil {
		return domain.Client{}, err
	}

	s.logger.Infof("Created client %s (slug %s)", client.ID, client.Slug)
	return client, nil
}

// AdminView resolves the full dashboard state by admin token.
func (s *ClientService) AdminView(ctx context.Context, token string) (ClientView, error) {
	client, err := s.resolveToken(ctx, token)
	if err != nil {
		return ClientView{}, err
	}
	return s.buildView(ctx, client)
}

// PublicView resolves the read-only dashboard state by public slug.
func (s *ClientService) PublicView(ctx context.Context, slug string) (ClientView, error) {
	client, err := s.store.ClientBySlug(ctx, slug)
	if err != nil {
		return ClientView{}, mapStoreErr(err)
	}
	return s.buildView(ctx, client)
}

// AddWorkLog records hours consumed against the client's balance.
// Returns the new log, the client's slug (the broadcast room) and the
// remaining balance. Only ACTIVE clients accept new logs.
func (s *ClientService) AddWorkLog(ctx context.Context, token, description string, hours float64, loggedAt time.Time) (domain.WorkLog, string, float64, error) {
	description = strings.TrimSpace(description)
	if description == "" {
		return domain.WorkLog{}, "", 0, fmt.Errorf("%w: description is required", ErrValidation)
	}
	if hours <= 0 {
		return domain.WorkLog{}, "", 0, fmt.Errorf("%w: hours must be positive", ErrValidation)
	}

	client, err := s.resolveToken(ctx, token)
	if err != nil {
		return domain.WorkLog{}, "", 0, err
	}
	if client.Status != domain.StatusActive {
		return domain.WorkLog{}, "", 0, fmt.Errorf("%w: client is %s", ErrInvalidState, client.Status)
	}

	if loggedAt.IsZero() {
		loggedAt = time.Now().UTC()
	}

	log := domain.WorkLog{
		ID:          uuid.NewString(),
		ClientID:    client.ID,
		Description: description,
		Hours:       hours,
		LoggedAt:    loggedAt,
		CreatedAt:   time.Now().UTC(),
	}

	if err := s.store.InsertWorkLog(ctx, &log); err != nil {
		return domain.WorkLog{}, "", 0, err
	}

	used, err := s.store.HoursUsed(ctx, client.ID)
	if err != nil {
		return domain.WorkLog{}, "", 0, err
	}

	s.logger.Infof("Added log %s (%.2fh) for client %s", log.ID, hours, client.Slug)
	return log, client.Slug, client.TotalHours - used, nil
}

// DeleteWorkLog removes a log entry owned by the token's client and
// returns the slug for notification.
func (s *ClientService) DeleteWorkLog(ctx context.Context, token, logID string) (string, error) {
	client, err := s.resolveToken(ctx, token)
	if err != nil {
		return "", err
	}

	log, err := s.store.WorkLogByID(ctx, logID)
	if err != nil {
		return "", mapStoreErr(err)
	}
	// A token must not be able to delete another client's logs.
	if log.ClientID != client.ID {
		return "", fmt.Errorf("%w: log %s", ErrNotFound, logID)
	}

	if err := s.store.DeleteWorkLog(ctx, logID); err != nil {
		return "", mapStoreErr(err)
	}

	s.logger.Infof("Deleted log %s for client %s", logID, client.Slug)
	return client.Slug, nil
}

// Refill atomically adds hours to the client's balance and returns the
// client with the new total.
func (s *ClientService) Refill(ctx context.Context, token string, hours float64) (domain.Client, error) {
	if hours <= 0 {
		return domain.Client{}, fmt.Errorf("%w: refill hours must be positive", ErrValidation)
	}

	client, err := s.resolveToken(ctx, token)
	if err != nil {
		return domain.Client{}, err
	}
	if client.Status != domain.StatusActive {
		return domain.Client{}, fmt.Errorf("%w: client is %s", ErrInvalidState, client.Status)
	}

	total, err := s.store.AdjustTotalHours(ctx, client.ID, hours)
	if err != nil {
		return domain.Client{}, mapStoreErr(err)
	}

	client.TotalHours = total
	s.logger.Infof("Refilled client %s by %.2fh (total %.2fh)", client.Slug, hours, total)
	return client, nil
}

// UpdateDetails applies a partial update of name, refill link and
// total hours.
func (s *ClientService) UpdateDetails(ctx context.Context, token string, params UpdateDetailsParams) (domain.Client, error) {
	client, err := s.resolveToken(ctx, token)
	if err != nil {
		return domain.Client{}, err
	}

	if params.Name != nil {
		name := strings.TrimSpace(*params.Name)
		if name == "" {
			return domain.Client{}, fmt.Errorf("%w: name cannot be empty", ErrValidation)
		}
		client.Name = name
	}
	if params.RefillLink != nil {
		if err := validateRefillLink(*params.RefillLink); err != nil {
			return domain.Client{}, err
		}
		client.RefillLink = *params.RefillLink
	}
	if params.TotalHours != nil {
		if *params.TotalHours <= 0 {
			return domain.Client{}, fmt.Errorf("%w: total hours must be positive", ErrValidation)
		}
		client.TotalHours = *params.TotalHours
	}

	if err := s.store.UpdateClient(ctx, &client); err != nil {
		return domain.Client{}, mapStoreErr(err)
	}

	s.logger.Infof("Updated details for client %s", client.Slug)
	return client, nil
}

// UpdateStatus pauses, resumes or archives the client.
func (s *ClientService) UpdateStatus(ctx context.Context, token string, status domain.ClientStatus) (domain.Client, error) {
	if !status.Valid() {
		return domain.Client{}, fmt.Errorf("%w: unknown status %q", ErrValidation, status)
	}

	client, err := s.resolveToken(ctx, token)
	if err != nil {
		return domain.Client{}, err
	}

	client.Status = status
	if err := s.store.UpdateClient(ctx, &client); err != nil {
		return domain.Client{}, mapStoreErr(err)
	}

	s.logger.Infof("Client %s status set to %s", client.Slug, status)
	return client, nil
}

// DeleteClient removes the client and all its logs. The deleted client
// is returned so the request layer can notify its room one last time.
func (s *ClientService) DeleteClient(ctx context.Context, token string) (domain.Client, error) {
	client, err := s.resolveToken(ctx, token)
	if err != nil {
		return domain.Client{}, err
	}

	if err := s.store.DeleteClient(ctx, client.ID); err != nil {
		return domain.Client{}, mapStoreErr(err)
	}

	s.logger.Infof("Deleted client %s (slug %s)", client.ID, client.Slug)
	return client, nil
}

func (s *ClientService) resolveToken(ctx context.Context, token string) (domain.Client, error) {
	if token == "" {
		return domain.Client{}, fmt.Errorf("%w: missing admin token", ErrNotFound)
	}
	client, err := s.store.ClientByAdminToken(ctx, token)
	if err != nil {
		return domain.Client{}, mapStoreErr(err)
	}
	return client, nil
}

func (s *ClientService) buildView(ctx context.Context, client domain.Client) (ClientView, error) {
	logs, err := s.store.WorkLogsByClient(ctx, client.ID)
	if err != nil {
		return ClientView{}, err
	}

	used, err := s.store.HoursUsed(ctx, client.ID)
	if err != nil {
		return ClientView{}, err
	}

	return ClientView{
		Client:         client,
		Logs:           logs,
		HoursUsed:      used,
		HoursRemaining: client.TotalHours - used,
	}, nil
}

func mapStoreErr(err error) error {
	if err == store.ErrNotFound {
		return ErrNotFound
	}
	return err
}

func validateRefillLink(link string) error {
	if link == "" {
		return nil
	}
	u, err := url.Parse(link)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("%w: refill link must be a valid URL", ErrValidation)
	}
	return nil
}

// slugify lowercases the name and replaces every run of non-alphanumeric
// characters with a single dash.
func slugify(name string) string {
	var b strings.Builder
	dash := false
	for _, r := range strings.ToLower(name) {
		switch {
		case r >= 'a' && r <= 'z' || r >= '0' && r <= '9':
			b.WriteRune(r)
			dash = false
		default:
			if !dash && b.Len() > 0 {
				b.WriteByte('-')
				dash = true
			}
		}
	}
	return strings.TrimSuffix(b.String(), "-")
}

// randomHex panics if the system entropy source fails: a partially
// zeroed admin token would be a guessable capability, so there is no
// degraded mode worth continuing in.
func randomHex(n int) string {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		panic(fmt.Sprintf("reading random bytes: %v", err))
	}
	return hex.EncodeToString(b)
}
