package issuance

import (
	"strings"

	"github.com/fatih/structs"
)

// Attributes are the NFT attributes of a certificate. The trait tag is the
// trait_type used in the metadata document; fields keep declaration order.
type Attributes struct {
	Base    string `json:"base" trait:"Base"`
	Content string `json:"content" trait:"Content"`
}

// MetadataFields is the user input of the metadata step
type MetadataFields struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	Attributes
}

// Trait is an entry of the attributes array of the metadata document
type Trait struct {
	TraitType string `json:"trait_type"`
	Value     any    `json:"value"`
}

// NFTMetadata is the metadata document the token uri points to
type NFTMetadata struct {
	Description string  `json:"description"`
	ExternalURL string  `json:"external_url"`
	Image       string  `json:"image"`
	Name        string  `json:"name"`
	Attributes  []Trait `json:"attributes"`
}

// Traits returns the attributes as metadata traits
func (a Attributes) Traits() []Trait {
	fields := structs.Fields(a)
	traits := make([]Trait, 0, len(fields))
	for _, f := range fields {
		name := f.Tag("trait")
		if name == "" {
			name = f.Name()
		}
		traits = append(
			traits, Trait{
				TraitType: name,
				Value:     f.Value(),
			},
		)
	}
	return traits
}

func (f MetadataFields) validate() error {
	if strings.TrimSpace(f.Name) == "" {
		return validationError("metadata name is required")
	}
	return nil
}

func buildMetadata(fields MetadataFields, imageURL, externalURL string) NFTMetadata {
	return NFTMetadata{
		Description: fields.Description,
		ExternalURL: externalURL,
		Image:       imageURL,
		Name:        fields.Name,
		Attributes:  fields.Attributes.Traits(),
	}
}

// imageFilename derives the upload file name from the student name
func imageFilename(studentName string) string {
	slug := strings.Join(strings.Fields(strings.ToLower(studentName)), "-")
	return "certificate-" + slug + ".jpg"
}
