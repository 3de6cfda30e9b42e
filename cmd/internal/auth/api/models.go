package api

import (
	"time"

	"restroom/cmd/identity"
)

type signupRequest struct {
	FullName    string  `json:"fullName"`
	Email       string  `json:"email"`
	Password    string  `json:"password"`
	Role        string  `json:"role"`
	PhoneNumber *string `json:"phoneNumber"`
	DOB         *string `json:"dob"`
	Gender      *string `json:"gender"`
	Nationality *string `json:"nationality"`
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type profilePatchRequest struct {
	FullName    *string `json:"fullName"`
	PhoneNumber *string `json:"phoneNumber"`
	DOB         *string `json:"dob"`
	Gender      *string `json:"gender"`
	Nationality *string `json:"nationality"`
}

type changePasswordRequest struct {
	OldPassword     string `json:"oldPassword"`
	NewPassword     string `json:"newPassword"`
	ConfirmPassword string `json:"confirmPassword"`
}

type inspectorCreateRequest struct {
	FullName string `json:"fullName"`
	Email    string `json:"email"`
	Password string `json:"password"`
	Role     string `json:"role"`
}

type principalResponse struct {
	ID          string    `json:"id"`
	Kind        string    `json:"kind"`
	Email       string    `json:"email"`
	Role        string    `json:"role"`
	FullName    string    `json:"fullName"`
	PhoneNumber *string   `json:"phoneNumber"`
	DOB         *string   `json:"dob"`
	Gender      *string   `json:"gender"`
	Nationality *string   `json:"nationality"`
	OwnerID     string    `json:"ownerId,omitempty"`
	CreatedAt   time.Time `json:"createdAt"`
}

type userEnvelope struct {
	Success bool              `json:"success"`
	Message string            `json:"message,omitempty"`
	User    principalResponse `json:"user"`
}

type messageResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

type inspectorEnvelope struct {
	Success   bool              `json:"success"`
	Message   string            `json:"message,omitempty"`
	Inspector principalResponse `json:"inspector"`
}

type inspectorListResponse struct {
	Success    bool                `json:"success"`
	Inspectors []principalResponse `json:"inspectors"`
}

func toPrincipalResponse(p identity.Principal) principalResponse {
	c := p.Creds()
	d := p.Details()
	out := principalResponse{
		ID:          c.ID,
		Kind:        string(p.Kind()),
		Email:       c.Email,
		Role:        string(p.Subject().Role),
		FullName:    d.FullName,
		PhoneNumber: d.PhoneNumber,
		DOB:         d.DOB,
		Gender:      d.Gender,
		Nationality: d.Nationality,
		CreatedAt:   c.CreatedAt,
	}
	if insp, ok := p.(identity.Inspector); ok {
		out.OwnerID = insp.OwnerID
	}
	return out
}
