package schema

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Row is a column → value mapping ready for insertion
type Row map[string]any

// ID returns the row's id column, or "" if missing
func (r Row) ID() string {
	id, _ := r["id"].(string)
	return id
}

// Insert renders a parameterised INSERT for the row with columns in sorted order
func (r Row) Insert(table string) (string, []any) {
	cols := make([]string, 0, len(r))
	for k := range r {
		cols = append(cols, k)
	}
	sort.Strings(cols)

	params := make([]any, len(cols))
	for i, c := range cols {
		params[i] = r[c]
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?, ", len(cols)), ", ")

	query := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)", table, strings.Join(cols, ", "), placeholders)
	return query, params
}

// IDFunc mints row identifiers
type IDFunc func() string

// Clock returns the current time
type Clock func() time.Time

// Builder constructs rows. Identifier generation and time are injected so
// that construction is deterministic under test.
type Builder struct {
	newID IDFunc
	now   Clock
}

// NewBuilder creates a builder. Nil arguments default to random UUIDs and time.Now.
func NewBuilder(newID IDFunc, now Clock) *Builder {
	if newID == nil {
		newID = uuid.NewString
	}
	if now == nil {
		now = time.Now
	}
	return &Builder{newID: newID, now: now}
}

// Location is the administrative hierarchy a record belongs to
type Location struct {
	ProvinceID  string `json:"provinceId"`
	DistrictID  string `json:"districtId"`
	AdminPostID string `json:"adminPostId"`
	VillageID   string `json:"villageId"`
}

// ActorInput holds the fields of an actors row
type ActorInput struct {
	Category    string
	SubCategory string
	Name        string
	Location
}

// FarmerDetailsInput holds the fields of an actor_details row
type FarmerDetailsInput struct {
	Surname       string
	OtherNames    string
	Gender        string
	BirthDate     string
	BirthPlace    string
	Nationality   string
	IsSmallholder bool
}

// OrganizationInput holds the fields of an organizations row
type OrganizationInput struct {
	Type            string
	LegalStatus     string
	CreationYear    int
	AffiliationYear int
	Nuel            string
	MembersCount    int
	WomenCount      int
}

// AddressInput holds the fields of an addresses row
type AddressInput struct {
	Location
	GPSLat  *float64
	GPSLong *float64
}

// ContactInput holds the fields of a contacts row
type ContactInput struct {
	PrimaryPhone   string
	SecondaryPhone string
	Email          string
}

// DocumentInput holds the fields of an actor_documents row
type DocumentInput struct {
	Type   string
	Number string
	Nuit   string
}

func (b *Builder) base() Row {
	ts := b.now().UTC().Format(time.RFC3339Nano)
	return Row{
		"id":         b.newID(),
		"created_at": ts,
		"updated_at": ts,
	}
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func boolInt(v bool) int {
	if v {
		return 1
	}
	return 0
}

// Actor builds an actors row. New actors are ACTIVE.
func (b *Builder) Actor(in ActorInput) Row {
	r := b.base()
	r["category"] = in.Category
	r["sub_category"] = nullable(in.SubCategory)
	r["name"] = strings.TrimSpace(in.Name)
	r["status"] = "ACTIVE"
	r["province_id"] = nullable(in.ProvinceID)
	r["district_id"] = nullable(in.DistrictID)
	r["admin_post_id"] = nullable(in.AdminPostID)
	r["village_id"] = nullable(in.VillageID)
	return r
}

// FarmerDetails builds the actor_details row of a farmer
func (b *Builder) FarmerDetails(actorID string, in FarmerDetailsInput) Row {
	nationality := in.Nationality
	if nationality == "" {
		nationality = "MOZAMBICAN"
	}
	r := b.base()
	r["actor_id"] = actorID
	r["surname"] = strings.TrimSpace(in.Surname)
	r["other_names"] = strings.TrimSpace(in.OtherNames)
	r["gender"] = nullable(in.Gender)
	r["birth_date"] = nullable(in.BirthDate)
	r["birth_place"] = nullable(in.BirthPlace)
	r["nationality"] = nationality
	r["is_smallholder"] = boolInt(in.IsSmallholder)
	return r
}

// Organization builds the organizations row of a group
func (b *Builder) Organization(actorID string, in OrganizationInput) Row {
	r := b.base()
	r["actor_id"] = actorID
	r["organization_type"] = in.Type
	r["legal_status"] = nullable(in.LegalStatus)
	r["creation_year"] = in.CreationYear
	r["affiliation_year"] = in.AffiliationYear
	r["nuel"] = nullable(in.Nuel)
	r["members_count"] = in.MembersCount
	r["women_count"] = in.WomenCount
	return r
}

// Address builds an addresses row for the given owner
func (b *Builder) Address(ownerID, ownerType string, in AddressInput) Row {
	r := b.base()
	r["owner_id"] = ownerID
	r["owner_type"] = ownerType
	r["province_id"] = nullable(in.ProvinceID)
	r["district_id"] = nullable(in.DistrictID)
	r["admin_post_id"] = nullable(in.AdminPostID)
	r["village_id"] = nullable(in.VillageID)
	r["gps_lat"] = nil
	r["gps_long"] = nil
	if in.GPSLat != nil && in.GPSLong != nil {
		r["gps_lat"] = *in.GPSLat
		r["gps_long"] = *in.GPSLong
	}
	return r
}

// Contact builds a contacts row for the given owner
func (b *Builder) Contact(ownerID, ownerType string, in ContactInput) Row {
	r := b.base()
	r["owner_id"] = ownerID
	r["owner_type"] = ownerType
	r["primary_phone"] = nullable(strings.TrimSpace(in.PrimaryPhone))
	r["secondary_phone"] = nullable(strings.TrimSpace(in.SecondaryPhone))
	r["email"] = nullable(strings.ToLower(strings.TrimSpace(in.Email)))
	return r
}

// Document builds an actor_documents row for the given owner
func (b *Builder) Document(ownerID, ownerType string, in DocumentInput) Row {
	r := b.base()
	r["owner_id"] = ownerID
	r["owner_type"] = ownerType
	r["document_type"] = in.Type
	r["document_number"] = nullable(in.Number)
	r["nuit"] = nullable(in.Nuit)
	return r
}
