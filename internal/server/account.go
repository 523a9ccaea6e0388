package server

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"tms/internal/service"
)

// handleRegister creates a regular account.
func (s *Server) handleRegister(c *gin.Context) {
	var req service.Credentials
	if !s.bindJSON(c, &req) {
		return
	}
	if err := s.identity.Register(c.Request.Context(), req); err != nil {
		s.respondError(c, err)
		return
	}
	respondSuccess(c, http.StatusOK, gin.H{"message": "User registered successfully"})
}

// handleRegisterAdmin creates an admin account; an existing admin's
// credentials come in the adminUsername/adminPassword headers.
func (s *Server) handleRegisterAdmin(c *gin.Context) {
	var req service.Credentials
	if !s.bindJSON(c, &req) {
		return
	}
	err := s.identity.RegisterAdmin(c.Request.Context(), req, c.GetHeader("adminUsername"), c.GetHeader("adminPassword"))
	if err != nil {
		s.respondError(c, err)
		return
	}
	respondSuccess(c, http.StatusOK, gin.H{"message": "Admin registered successfully"})
}

// handleRegisterInitialAdmin bootstraps the first admin account.
func (s *Server) handleRegisterInitialAdmin(c *gin.Context) {
	var req service.Credentials
	if !s.bindJSON(c, &req) {
		return
	}
	if err := s.identity.RegisterInitialAdmin(c.Request.Context(), req); err != nil {
		s.respondError(c, err)
		return
	}
	respondSuccess(c, http.StatusOK, gin.H{"message": "Initial admin registered successfully"})
}

// handleLogin exchanges credentials for a bearer token.
func (s *Server) handleLogin(c *gin.Context) {
	var req service.Credentials
	if !s.bindJSON(c, &req) {
		return
	}
	res, err := s.identity.Login(c.Request.Context(), req)
	if err != nil {
		s.respondError(c, err)
		return
	}
	respondSuccess(c, http.StatusOK, res)
}

// handleLogout revokes the token used for this request.
func (s *Server) handleLogout(c *gin.Context) {
	if err := s.identity.Logout(c.Request.Context(), callerClaims(c)); err != nil {
		s.respondError(c, err)
		return
	}
	respondSuccess(c, http.StatusOK, gin.H{"message": "Logout successful"})
}

// handleProfile returns a profile with task summaries. Admins may pass ?username=.
func (s *Server) handleProfile(c *gin.Context) {
	me := caller(c)
	profile, err := s.identity.GetProfile(c.Request.Context(), me, c.DefaultQuery("username", me.Username))
	if err != nil {
		s.respondError(c, err)
		return
	}
	respondSuccess(c, http.StatusOK, gin.H{"profile": profile})
}

// handleUserProfile returns the caller's account record without tasks.
func (s *Server) handleUserProfile(c *gin.Context) {
	user, err := s.identity.GetUserProfile(c.Request.Context(), caller(c))
	if err != nil {
		s.respondError(c, err)
		return
	}
	respondSuccess(c, http.StatusOK, gin.H{"user": user})
}

// handleDeleteUser lets an admin remove a non-admin account.
func (s *Server) handleDeleteUser(c *gin.Context) {
	id, ok := parseID(c, "id")
	if !ok {
		return
	}
	if err := s.identity.DeleteUser(c.Request.Context(), caller(c), id); err != nil {
		s.respondError(c, err)
		return
	}
	respondSuccess(c, http.StatusOK, gin.H{"message": "User deleted successfully"})
}

// handleDeleteOwnAccount removes the caller's account and every task tied to it.
func (s *Server) handleDeleteOwnAccount(c *gin.Context) {
	if err := s.identity.DeleteOwnAccount(c.Request.Context(), caller(c), c.Param("username")); err != nil {
		s.respondError(c, err)
		return
	}
	respondSuccess(c, http.StatusOK, gin.H{"message": "Account deleted successfully"})
}

// handleNonAdminUsers lists the accounts an admin can assign tasks to.
func (s *Server) handleNonAdminUsers(c *gin.Context) {
	users, err := s.identity.ListNonAdminUsers(c.Request.Context(), caller(c))
	if err != nil {
		s.respondError(c, err)
		return
	}
	respondSuccess(c, http.StatusOK, gin.H{"users": users})
}
