package app

import (
	"net/http"

	"github.com/gorilla/mux"
)

func sessionJSON(session Session) map[string]any {
	return map[string]any{
		"accessToken":  session.Token,
		"refreshToken": session.RefreshToken,
		"profileId":    session.ProfileID,
		"orgId":        session.OrgID,
		"userName":     session.Name,
		"role":         session.Role,
		"expiresAt":    session.ExpiresAt.Unix(),
	}
}

func (s *HTTPServer) handleAuthSignUp(w http.ResponseWriter, r *http.Request) {
	var body SignUpInput
	if err := decodeAndValidate(r, &body); err != nil {
		s.fail(w, r, err)
		return
	}
	result, err := s.service.SignUp(r.Context(), body)
	if err != nil {
		s.fail(w, r, err)
		return
	}

	response := map[string]any{
		"profileId": result.ProfileID,
		"orgId":     result.OrgID,
		"message":   "Please check your email to verify your account",
	}
	// Dev bypass: the token is only returned when no mail server is configured
	if result.DevToken != "" {
		response["devVerificationToken"] = result.DevToken
		response["message"] = "Account created. Verify your email to continue."
	}
	writeJSON(w, http.StatusCreated, response)
}

func (s *HTTPServer) handleAuthSignIn(w http.ResponseWriter, r *http.Request) {
	var body SignInInput
	if err := decodeAndValidate(r, &body); err != nil {
		s.fail(w, r, err)
		return
	}
	session, err := s.service.SignIn(r.Context(), body)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, sessionJSON(session))
}

func (s *HTTPServer) handleAuthVerifyEmail(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Token string `json:"token" validate:"required"`
	}
	if err := decodeAndValidate(r, &body); err != nil {
		s.fail(w, r, err)
		return
	}
	if err := s.service.VerifyEmail(r.Context(), body.Token); err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"message": "Email verified successfully",
	})
}

type accountEmailBody struct {
	Org   string `json:"org" validate:"required"`
	Email string `json:"email" validate:"required,email"`
}

// The account lookups below always answer 200 so the response never tells
// whether an address is registered.

func (s *HTTPServer) handleAuthResendVerification(w http.ResponseWriter, r *http.Request) {
	var body accountEmailBody
	if err := decodeAndValidate(r, &body); err != nil {
		s.fail(w, r, err)
		return
	}
	token, err := s.service.ResendVerification(r.Context(), body.Org, body.Email)
	if err != nil {
		s.log.Warn().Err(err).Str("request_id", requestID(r.Context())).Msg("resend verification")
	}
	response := map[string]any{
		"message": "If the account exists and is unverified, a new email has been sent",
	}
	if token != "" {
		response["devVerificationToken"] = token
	}
	writeJSON(w, http.StatusOK, response)
}

func (s *HTTPServer) handleAuthRequestReset(w http.ResponseWriter, r *http.Request) {
	var body accountEmailBody
	if err := decodeAndValidate(r, &body); err != nil {
		s.fail(w, r, err)
		return
	}
	token, err := s.service.RequestPasswordReset(r.Context(), body.Org, body.Email)
	if err != nil {
		s.log.Warn().Err(err).Str("request_id", requestID(r.Context())).Msg("request password reset")
	}
	response := map[string]any{
		"message": "If an account exists, a reset email has been sent",
	}
	if token != "" {
		response["devResetToken"] = token
	}
	writeJSON(w, http.StatusOK, response)
}

func (s *HTTPServer) handleAuthResetPassword(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Token       string `json:"token" validate:"required"`
		NewPassword string `json:"newPassword" validate:"required"`
	}
	if err := decodeAndValidate(r, &body); err != nil {
		s.fail(w, r, err)
		return
	}
	if err := s.service.ResetPassword(r.Context(), body.Token, body.NewPassword); err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"message": "Password reset successfully",
	})
}

func (s *HTTPServer) handleSession(w http.ResponseWriter, r *http.Request) {
	token := bearerToken(r)
	if token == "" {
		writeJSON(w, http.StatusOK, map[string]any{"authenticated": false, "userName": nil})
		return
	}
	session, err := s.service.SessionFromToken(r.Context(), token)
	if err != nil {
		writeJSON(w, http.StatusOK, map[string]any{"authenticated": false, "userName": nil})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"authenticated": true,
		"userName":      session.Name,
		"profileId":     session.ProfileID,
		"orgId":         session.OrgID,
		"role":          session.Role,
	})
}

func (s *HTTPServer) handleSessionRefresh(w http.ResponseWriter, r *http.Request) {
	var body struct {
		RefreshToken string `json:"refreshToken" validate:"required"`
	}
	if err := decodeAndValidate(r, &body); err != nil {
		s.fail(w, r, err)
		return
	}
	session, err := s.service.Refresh(r.Context(), body.RefreshToken)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, sessionJSON(session))
}

func (s *HTTPServer) handleSessionLogout(w http.ResponseWriter, r *http.Request, session Session) {
	var body struct {
		RefreshToken string `json:"refreshToken"`
	}
	if err := decodeBody(r, &body); err != nil {
		s.fail(w, r, err)
		return
	}
	if err := s.service.Logout(r.Context(), session, body.RefreshToken); err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (s *HTTPServer) handleProfile(w http.ResponseWriter, r *http.Request, session Session) {
	profile, err := s.service.Profile(r.Context(), session)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"profile": profile})
}

func (s *HTTPServer) handleUpdateProfile(w http.ResponseWriter, r *http.Request, session Session) {
	var body ProfileInput
	if err := decodeAndValidate(r, &body); err != nil {
		s.fail(w, r, err)
		return
	}
	profile, err := s.service.UpdateProfile(r.Context(), session, body)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"profile": profile})
}

func (s *HTTPServer) handleMemberships(w http.ResponseWriter, r *http.Request, session Session) {
	items, err := s.service.Memberships(r.Context(), session)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"memberships": items})
}

func (s *HTTPServer) handleMembers(w http.ResponseWriter, r *http.Request, session Session) {
	items, err := s.service.Members(r.Context(), session)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"members": items})
}

func (s *HTTPServer) handleSetMemberRole(w http.ResponseWriter, r *http.Request, session Session) {
	var body struct {
		Role string `json:"role" validate:"required"`
	}
	if err := decodeAndValidate(r, &body); err != nil {
		s.fail(w, r, err)
		return
	}
	if err := s.service.SetMemberRole(r.Context(), session, mux.Vars(r)["profileId"], body.Role); err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}
