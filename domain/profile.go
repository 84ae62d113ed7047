package domain

import "time"

// Profile is the local customer record. It is the source of truth for
// enrichment data (document, birth date); the directory account in Keycloak
// mirrors it through custom attributes.
type Profile struct {
	ID        string     `bson:"_id,omitempty" json:"id,omitempty"`
	Email     string     `bson:"email" json:"email"`
	Name      string     `bson:"name" json:"name"`
	BirthDate *time.Time `bson:"birth_date,omitempty" json:"birthDate,omitempty"`
	Document  string     `bson:"document,omitempty" json:"document,omitempty"`
	// SubjectID is the Keycloak user id the profile is linked to. It is
	// reassigned when a username migration mints a new directory account.
	SubjectID string    `bson:"subject_id,omitempty" json:"subjectId,omitempty"`
	CreatedAt time.Time `bson:"created_at" json:"createdAt"`
	UpdatedAt time.Time `bson:"updated_at" json:"updatedAt"`
}

// NeedsEnrichment reports whether the profile is still missing the data the
// complete-profile flow collects after a first login.
func (p *Profile) NeedsEnrichment() bool {
	return p.Document == "" || p.BirthDate == nil
}
