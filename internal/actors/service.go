// Package actors holds the business-level insert helpers for farmers and
// groups. Each helper assembles the related rows through the schema
// builders and hands them to the offline write guarantee.
package actors

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/erauner12/fieldsync/internal/offline"
	"github.com/erauner12/fieldsync/internal/schema"
	"github.com/rs/zerolog/log"
	"github.com/ttacon/libphonenumber"
)

// Validation errors
var (
	ErrNameRequired             = errors.New("name is required")
	ErrSurnameRequired          = errors.New("surname is required")
	ErrOrganizationTypeRequired = errors.New("organization type is required")
	ErrInvalidPhone             = errors.New("invalid phone number")
)

// DefaultPhoneRegion is used for numbers entered without a country code
const DefaultPhoneRegion = "MZ"

// Writer is the write path the helpers use
type Writer interface {
	InsertTreeWithGuarantee(ctx context.Context, parent offline.Write, deps ...offline.Write) offline.Result
}

// Result is the outcome of an insert helper
type Result struct {
	offline.Result
	ActorID string `json:"actorId,omitempty"`
}

// Parts are the optional rows attached to an actor
type Parts struct {
	Address  *schema.AddressInput  `json:"address,omitempty"`
	Contact  *schema.ContactInput  `json:"contact,omitempty"`
	Document *schema.DocumentInput `json:"document,omitempty"`
}

// FarmerInput describes a farmer registration
type FarmerInput struct {
	SubCategory string                    `json:"subCategory"`
	Location    schema.Location           `json:"location"`
	Details     schema.FarmerDetailsInput `json:"details"`
	Parts
}

// GroupInput describes a group (association or cooperative) registration
type GroupInput struct {
	Name         string                   `json:"name"`
	SubCategory  string                   `json:"subCategory"`
	Location     schema.Location          `json:"location"`
	Organization schema.OrganizationInput `json:"organization"`
	Parts
}

// Service builds and writes actor records
type Service struct {
	w      Writer
	b      *schema.Builder
	region string
}

// Option configures a Service
type Option func(*Service)

// WithPhoneRegion sets the region assumed for phone numbers without a
// country code
func WithPhoneRegion(region string) Option {
	return func(s *Service) { s.region = region }
}

// NewService creates a Service
func NewService(w Writer, b *schema.Builder, opts ...Option) *Service {
	s := &Service{w: w, b: b, region: DefaultPhoneRegion}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// InsertFarmer writes a farmer actor with its details row and any attached parts
func (s *Service) InsertFarmer(ctx context.Context, in FarmerInput) Result {
	surname := strings.TrimSpace(in.Details.Surname)
	if surname == "" {
		return failed(ErrSurnameRequired)
	}
	name := strings.TrimSpace(strings.TrimSpace(in.Details.OtherNames) + " " + surname)
	contact, err := s.normalizeContact(in.Contact)
	if err != nil {
		return failed(err)
	}
	in.Contact = contact

	actor := s.b.Actor(schema.ActorInput{
		Category:    schema.CategoryFarmer,
		SubCategory: in.SubCategory,
		Name:        name,
		Location:    in.Location,
	})
	deps := []offline.Write{toWrite(s.b.FarmerDetails(actor.ID(), in.Details), schema.TableActorDetails)}
	deps = append(deps, s.parts(actor.ID(), schema.OwnerActor, in.Parts)...)

	return s.write(ctx, actor, deps)
}

// InsertGroup writes a group actor with its organization row and any attached parts
func (s *Service) InsertGroup(ctx context.Context, in GroupInput) Result {
	if strings.TrimSpace(in.Name) == "" {
		return failed(ErrNameRequired)
	}
	if in.Organization.Type == "" {
		return failed(ErrOrganizationTypeRequired)
	}
	contact, err := s.normalizeContact(in.Contact)
	if err != nil {
		return failed(err)
	}
	in.Contact = contact

	actor := s.b.Actor(schema.ActorInput{
		Category:    schema.CategoryGroup,
		SubCategory: in.SubCategory,
		Name:        in.Name,
		Location:    in.Location,
	})
	deps := []offline.Write{toWrite(s.b.Organization(actor.ID(), in.Organization), schema.TableOrganizations)}
	deps = append(deps, s.parts(actor.ID(), schema.OwnerGroup, in.Parts)...)

	return s.write(ctx, actor, deps)
}

// normalizeContact returns a copy of c with its phone numbers in E.164
// form. Empty numbers are left alone.
func (s *Service) normalizeContact(c *schema.ContactInput) (*schema.ContactInput, error) {
	if c == nil {
		return nil, nil
	}
	out := *c
	for _, phone := range []*string{&out.PrimaryPhone, &out.SecondaryPhone} {
		raw := strings.TrimSpace(*phone)
		if raw == "" {
			continue
		}
		num, err := libphonenumber.Parse(raw, s.region)
		if err != nil || !libphonenumber.IsValidNumber(num) {
			return nil, fmt.Errorf("%w: %q", ErrInvalidPhone, raw)
		}
		*phone = libphonenumber.Format(num, libphonenumber.E164)
	}
	return &out, nil
}

func (s *Service) parts(ownerID, ownerType string, p Parts) []offline.Write {
	var writes []offline.Write
	if p.Address != nil {
		writes = append(writes, toWrite(s.b.Address(ownerID, ownerType, *p.Address), schema.TableAddresses))
	}
	if p.Contact != nil {
		writes = append(writes, toWrite(s.b.Contact(ownerID, ownerType, *p.Contact), schema.TableContacts))
	}
	if p.Document != nil {
		writes = append(writes, toWrite(s.b.Document(ownerID, ownerType, *p.Document), schema.TableActorDocuments))
	}
	return writes
}

func (s *Service) write(ctx context.Context, actor schema.Row, deps []offline.Write) Result {
	res := s.w.InsertTreeWithGuarantee(ctx, toWrite(actor, schema.TableActors), deps...)

	log.Info().
		Str("actorId", actor.ID()).
		Str("category", actor["category"].(string)).
		Bool("success", res.Success).
		Bool("pending", res.Data != nil && res.Data.Pending).
		Int("rows", len(deps)+1).
		Msg("actor saved")

	return Result{Result: res, ActorID: actor.ID()}
}

func toWrite(row schema.Row, table string) offline.Write {
	query, params := row.Insert(table)
	return offline.Write{Query: query, Params: params, Table: table, Data: row}
}

func failed(err error) Result {
	log.Warn().Err(err).Msg("actor rejected")
	return Result{Result: offline.Result{Success: false, Error: err.Error()}}
}
