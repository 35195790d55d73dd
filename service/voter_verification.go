package service

import (
	"regexp"
	"strings"

	"github.com/google/uuid"
)

var emailPattern = regexp.MustCompile(`^[^@\s]+@[^@\s]+\.[^@\s]+$`)

// Recognised gender labels; anything else is recorded as "other".
var genders = map[string]string{
	"male":   "male",
	"m":      "male",
	"female": "female",
	"f":      "female",
	"other":  "other",
}

const maxNameLength = 200

// VoterVerificationService checks the shape of caller input before anything is
// written. It does not prove identity.
type VoterVerificationService struct {
	maxCandidates int
}

func NewVoterVerificationService() *VoterVerificationService {
	return &VoterVerificationService{maxCandidates: 1000}
}

// verifyID returns the canonical lowercase hyphenated form of id. The stores
// compare ids as text, so braced, urn and upper-case spellings are folded here.
func (vvs *VoterVerificationService) verifyID(field, id string) (string, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return "", invalid(field, "is required")
	}
	parsed, err := uuid.Parse(id)
	if err != nil {
		return "", invalid(field, "%q is not a UUID", id)
	}
	return parsed.String(), nil
}

func (vvs *VoterVerificationService) verifyName(field, name string) (string, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return "", invalid(field, "is required")
	}
	if len(name) > maxNameLength {
		return "", invalid(field, "longer than %d characters", maxNameLength)
	}
	return name, nil
}

// normalizeEmail lower-cases the address so uniqueness per election is
// case-insensitive.
func (vvs *VoterVerificationService) normalizeEmail(email string) (string, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	if !emailPattern.MatchString(email) {
		return "", invalid("email", "%q is not an email address", email)
	}
	return email, nil
}

func (vvs *VoterVerificationService) normalizeGender(gender string) string {
	g := strings.ToLower(strings.TrimSpace(gender))
	if g == "" {
		return "unspecified"
	}
	if label, ok := genders[g]; ok {
		return label
	}
	return "other"
}

func (vvs *VoterVerificationService) verifyElection(req *CreateElectionRequest) error {
	if _, err := vvs.verifyName("election_name", req.Name); err != nil {
		return err
	}
	if req.StartTime.IsZero() || req.EndTime.IsZero() {
		return invalid("time", "start and end time are required")
	}
	if !req.EndTime.After(req.StartTime) {
		return invalid("end_time", "must be after start_time")
	}
	if len(req.Candidates) == 0 {
		return invalid("candidates", "at least one candidate is required")
	}
	if len(req.Candidates) > vvs.maxCandidates {
		return invalid("candidates", "at most %d candidates are allowed", vvs.maxCandidates)
	}
	for i, c := range req.Candidates {
		if _, err := vvs.verifyName("candidates", c.Name); err != nil {
			return invalid("candidates", "candidate %d has no name", i)
		}
	}
	return nil
}
