package api

import (
	"errors"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"restroom/cmd/identity"
	"restroom/cmd/internal/auth/session"
)

const (
	accountNameMin   = 3
	accountNameMax   = 30
	inspectorNameMax = 50
	optionalFieldMax = 64
	dobLayout        = "2006-01-02"
)

// validationError carries a client-safe message.
type validationError struct{ msg string }

func (e validationError) Error() string { return e.msg }

func invalidf(msg string) error { return validationError{msg: msg} }

// clientMessage returns the message to render for a 400. Only validation
// errors and identity.OpError input failures expose their text.
func clientMessage(err error) string {
	var ve validationError
	if errors.As(err, &ve) {
		return ve.msg
	}
	var oe identity.OpError
	if errors.As(err, &oe) && oe.Msg != "" {
		return oe.Msg
	}
	return "invalid request"
}

func (req signupRequest) toInput(allowAdmin bool) (session.SignupInput, error) {
	name, err := fullName(req.FullName, accountNameMax)
	if err != nil {
		return session.SignupInput{}, err
	}
	email, err := emailField(req.Email)
	if err != nil {
		return session.SignupInput{}, err
	}
	if req.Password == "" {
		return session.SignupInput{}, invalidf(`"password" is required`)
	}
	role, err := signupRole(req.Role, allowAdmin)
	if err != nil {
		return session.SignupInput{}, err
	}

	prof := identity.Profile{FullName: name}
	if prof.PhoneNumber, err = optionalField("phoneNumber", req.PhoneNumber); err != nil {
		return session.SignupInput{}, err
	}
	if prof.DOB, err = dobField(req.DOB); err != nil {
		return session.SignupInput{}, err
	}
	if prof.Gender, err = optionalField("gender", req.Gender); err != nil {
		return session.SignupInput{}, err
	}
	if prof.Nationality, err = optionalField("nationality", req.Nationality); err != nil {
		return session.SignupInput{}, err
	}

	return session.SignupInput{Email: email, Password: req.Password, Role: role, Profile: prof}, nil
}

func (req profilePatchRequest) toPatch(kind identity.Kind) (identity.ProfilePatch, error) {
	var (
		patch identity.ProfilePatch
		err   error
	)
	if req.FullName != nil {
		limit := accountNameMax
		if kind == identity.KindInspector {
			limit = inspectorNameMax
		}
		name, nerr := fullName(*req.FullName, limit)
		if nerr != nil {
			return patch, nerr
		}
		patch.FullName = &name
	}
	if patch.PhoneNumber, err = optionalField("phoneNumber", req.PhoneNumber); err != nil {
		return patch, err
	}
	if patch.DOB, err = dobField(req.DOB); err != nil {
		return patch, err
	}
	if patch.Gender, err = optionalField("gender", req.Gender); err != nil {
		return patch, err
	}
	if patch.Nationality, err = optionalField("nationality", req.Nationality); err != nil {
		return patch, err
	}
	if patch.Empty() {
		return patch, invalidf("no profile fields to update")
	}
	return patch, nil
}

func (req inspectorCreateRequest) validate() (name, email string, err error) {
	if name, err = fullName(req.FullName, inspectorNameMax); err != nil {
		return "", "", err
	}
	if email, err = emailField(req.Email); err != nil {
		return "", "", err
	}
	if req.Password == "" {
		return "", "", invalidf(`"password" is required`)
	}
	if r := strings.TrimSpace(req.Role); r != "" && identity.Role(r) != identity.RoleInspector {
		return "", "", invalidf(`"role" must be "inspector"`)
	}
	return name, email, nil
}

func fullName(raw string, limit int) (string, error) {
	s := strings.TrimSpace(raw)
	n := utf8.RuneCountInString(s)
	if n == 0 {
		return "", invalidf(`"fullName" is required`)
	}
	if n < accountNameMin || n > limit {
		return "", invalidf(`"fullName" length must be between 3 and ` + strconv.Itoa(limit) + ` characters`)
	}
	return s, nil
}

func emailField(raw string) (string, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return "", invalidf(`"email" is required`)
	}
	if !identity.ValidEmail(s) {
		return "", invalidf(`"email" must be a valid email`)
	}
	return s, nil
}

func signupRole(raw string, allowAdmin bool) (identity.Role, error) {
	switch identity.Role(strings.ToLower(strings.TrimSpace(raw))) {
	case "", identity.RoleUser:
		return identity.RoleUser, nil
	case identity.RoleAdmin:
		if allowAdmin {
			return identity.RoleAdmin, nil
		}
		return "", invalidf(`"role" admin is not allowed`)
	default:
		return "", invalidf(`"role" must be one of [user, admin]`)
	}
}

// optionalField trims v. Blank values are treated as absent.
func optionalField(name string, v *string) (*string, error) {
	if v == nil {
		return nil, nil
	}
	s := strings.TrimSpace(*v)
	if s == "" {
		return nil, nil
	}
	if utf8.RuneCountInString(s) > optionalFieldMax {
		return nil, invalidf(`"` + name + `" is too long`)
	}
	return &s, nil
}

func dobField(v *string) (*string, error) {
	s, err := optionalField("dob", v)
	if err != nil || s == nil {
		return s, err
	}
	if _, err := time.Parse(dobLayout, *s); err != nil {
		return nil, invalidf("Invalid date format for DOB. Please use YYYY-MM-DD.")
	}
	return s, nil
}
