package schema

// Table names
const (
	TableActors         = "actors"
	TableActorDetails   = "actor_details"
	TableOrganizations  = "organizations"
	TableAddresses      = "addresses"
	TableContacts       = "contacts"
	TableActorDocuments = "actor_documents"
	TableProvinces      = "provinces"
	TableDistricts      = "districts"
	TableAdminPosts     = "admin_posts"
	TableVillages       = "villages"
	TableFormDrafts     = "form_drafts"
)

// Actor categories
const (
	CategoryFarmer = "FARMER"
	CategoryGroup  = "GROUP"
	CategoryTrader = "TRADER"
)

// Owner types for addresses, contacts and documents
const (
	OwnerActor = "ACTOR"
	OwnerGroup = "GROUP"
)

func audited(cols ...Column) []Column {
	return append(cols,
		Column{Name: "created_at", Type: Text},
		Column{Name: "updated_at", Type: Text},
	)
}

// Default returns the schema of the field data-collection app
func Default() *Schema {
	return New(
		Table{
			Name: TableActors,
			Columns: audited(
				Column{Name: "category", Type: Text},
				Column{Name: "sub_category", Type: Text},
				Column{Name: "name", Type: Text},
				Column{Name: "status", Type: Text},
				Column{Name: "province_id", Type: Text},
				Column{Name: "district_id", Type: Text},
				Column{Name: "admin_post_id", Type: Text},
				Column{Name: "village_id", Type: Text},
			),
			Indexes: []Index{
				{Name: "idx_actors_category", Columns: []string{"category"}},
				{Name: "idx_actors_district", Columns: []string{"district_id"}},
			},
		},
		Table{
			Name: TableActorDetails,
			Columns: audited(
				Column{Name: "actor_id", Type: Text},
				Column{Name: "surname", Type: Text},
				Column{Name: "other_names", Type: Text},
				Column{Name: "gender", Type: Text},
				Column{Name: "birth_date", Type: Text},
				Column{Name: "birth_place", Type: Text},
				Column{Name: "nationality", Type: Text},
				Column{Name: "is_smallholder", Type: Integer},
			),
			Indexes: []Index{
				{Name: "idx_actor_details_actor", Columns: []string{"actor_id"}},
			},
		},
		Table{
			Name: TableOrganizations,
			Columns: audited(
				Column{Name: "actor_id", Type: Text},
				Column{Name: "organization_type", Type: Text},
				Column{Name: "legal_status", Type: Text},
				Column{Name: "creation_year", Type: Integer},
				Column{Name: "affiliation_year", Type: Integer},
				Column{Name: "nuel", Type: Text},
				Column{Name: "members_count", Type: Integer},
				Column{Name: "women_count", Type: Integer},
			),
			Indexes: []Index{
				{Name: "idx_organizations_actor", Columns: []string{"actor_id"}},
			},
		},
		Table{
			Name: TableAddresses,
			Columns: audited(
				Column{Name: "owner_id", Type: Text},
				Column{Name: "owner_type", Type: Text},
				Column{Name: "province_id", Type: Text},
				Column{Name: "district_id", Type: Text},
				Column{Name: "admin_post_id", Type: Text},
				Column{Name: "village_id", Type: Text},
				Column{Name: "gps_lat", Type: Real},
				Column{Name: "gps_long", Type: Real},
			),
			Indexes: []Index{
				{Name: "idx_addresses_owner", Columns: []string{"owner_id"}},
			},
		},
		Table{
			Name: TableContacts,
			Columns: audited(
				Column{Name: "owner_id", Type: Text},
				Column{Name: "owner_type", Type: Text},
				Column{Name: "primary_phone", Type: Text},
				Column{Name: "secondary_phone", Type: Text},
				Column{Name: "email", Type: Text},
			),
			Indexes: []Index{
				{Name: "idx_contacts_owner", Columns: []string{"owner_id"}},
			},
		},
		Table{
			Name: TableActorDocuments,
			Columns: audited(
				Column{Name: "owner_id", Type: Text},
				Column{Name: "owner_type", Type: Text},
				Column{Name: "document_type", Type: Text},
				Column{Name: "document_number", Type: Text},
				Column{Name: "nuit", Type: Text},
			),
			Indexes: []Index{
				{Name: "idx_actor_documents_owner", Columns: []string{"owner_id"}},
			},
		},
		Table{
			Name:     TableProvinces,
			ReadOnly: true,
			Columns: []Column{
				{Name: "name", Type: Text},
				{Name: "code", Type: Text},
			},
		},
		Table{
			Name:     TableDistricts,
			ReadOnly: true,
			Columns: []Column{
				{Name: "province_id", Type: Text},
				{Name: "name", Type: Text},
				{Name: "code", Type: Text},
			},
			Indexes: []Index{
				{Name: "idx_districts_province", Columns: []string{"province_id"}},
			},
		},
		Table{
			Name:     TableAdminPosts,
			ReadOnly: true,
			Columns: []Column{
				{Name: "district_id", Type: Text},
				{Name: "name", Type: Text},
			},
			Indexes: []Index{
				{Name: "idx_admin_posts_district", Columns: []string{"district_id"}},
			},
		},
		Table{
			Name:     TableVillages,
			ReadOnly: true,
			Columns: []Column{
				{Name: "admin_post_id", Type: Text},
				{Name: "name", Type: Text},
			},
			Indexes: []Index{
				{Name: "idx_villages_admin_post", Columns: []string{"admin_post_id"}},
			},
		},
		Table{
			Name:      TableFormDrafts,
			LocalOnly: true,
			Columns: []Column{
				{Name: "form", Type: Text},
				{Name: "payload", Type: Text},
				{Name: "updated_at", Type: Text},
			},
		},
	)
}
