package webhooks

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/MarcoPoloResearchLab/gurukul/internal/users"
)

// Event types emitted by the identity provider for user lifecycle changes.
const (
	EventUserCreated = "user.created"
	EventUserUpdated = "user.updated"
	EventUserDeleted = "user.deleted"
)

var (
	errMissingEventType    = errors.New("event type missing")
	errMissingPrimaryEmail = errors.New("primary email address not found")
)

// Envelope is the JSON body of a provider webhook delivery. Unknown fields are ignored.
type Envelope struct {
	Type string   `json:"type"`
	Data UserData `json:"data"`
}

// UserData carries the user fields consumed from the event payload.
type UserData struct {
	ID                    string         `json:"id"`
	PrimaryEmailAddressID string         `json:"primary_email_address_id"`
	FirstName             string         `json:"first_name"`
	LastName              string         `json:"last_name"`
	EmailAddresses        []EmailAddress `json:"email_addresses"`
}

// EmailAddress is one entry of the provider's email collection.
type EmailAddress struct {
	ID           string `json:"id"`
	EmailAddress string `json:"email_address"`
}

// ProfileFields are the values derived from a created or updated event.
type ProfileFields struct {
	ExternalID  string
	Email       string
	DisplayName *string
}

func decodeEnvelope(payload []byte) (Envelope, error) {
	var envelope Envelope
	if err := json.Unmarshal(payload, &envelope); err != nil {
		return Envelope{}, err
	}
	envelope.Type = strings.TrimSpace(envelope.Type)
	if envelope.Type == "" {
		return Envelope{}, errMissingEventType
	}
	return envelope, nil
}

// externalID validates data.id.
func (d UserData) externalID() (string, error) {
	return users.NewExternalID(d.ID)
}

// primaryEmail resolves the address whose id matches primary_email_address_id.
func (d UserData) primaryEmail() (string, error) {
	primaryID := strings.TrimSpace(d.PrimaryEmailAddressID)
	if primaryID == "" {
		return "", errMissingPrimaryEmail
	}
	for _, address := range d.EmailAddresses {
		if strings.TrimSpace(address.ID) == primaryID {
			return users.NewEmail(address.EmailAddress)
		}
	}
	return "", fmt.Errorf("%w: %s", errMissingPrimaryEmail, primaryID)
}

// profile derives the identity fields shared by created and updated events.
func (d UserData) profile() (ProfileFields, error) {
	externalID, err := d.externalID()
	if err != nil {
		return ProfileFields{}, err
	}
	email, err := d.primaryEmail()
	if err != nil {
		return ProfileFields{}, err
	}
	return ProfileFields{
		ExternalID:  externalID,
		Email:       email,
		DisplayName: users.ComposeDisplayName(d.FirstName, d.LastName),
	}, nil
}
