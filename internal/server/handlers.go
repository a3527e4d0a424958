package server

import (
	"log/slog"
	"net/http"

	"pybuddy/internal/api"
	"pybuddy/internal/catalog"
	"pybuddy/internal/llm"
	"pybuddy/internal/tutor"

	"github.com/go-chi/chi/v5"
)

func (s *Server) handleListChallenges(w http.ResponseWriter, r *http.Request) {
	challenges := s.catalog.Challenges()
	out := make([]api.ChallengeSummary, len(challenges))
	for i, c := range challenges {
		out[i] = api.NewChallengeSummary(c)
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleGetChallenge(w http.ResponseWriter, r *http.Request) {
	ch, err := s.catalog.Challenge(chi.URLParam(r, "challengeID"))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, ch)
}

func (s *Server) handleGrade(w http.ResponseWriter, r *http.Request) {
	ch, err := s.catalog.Challenge(chi.URLParam(r, "challengeID"))
	if err != nil {
		writeDomainError(w, err)
		return
	}

	var req api.GradeRequest
	if err := s.parseJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	result := s.grader.Grade(r.Context(), req.SourceCode, ch)
	writeJSON(w, http.StatusOK, api.NewGradeResponse(result))
}

func (s *Server) handleListCharacters(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.catalog.Characters())
}

func (s *Server) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	var req api.SessionRequest
	if err := s.parseJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	sess, err := s.tutor.Start(req.Character)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	s.writeSession(w, http.StatusCreated, sess)
}

func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	sess, err := s.tutor.Store().Get(chi.URLParam(r, "sessionID"))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	s.writeSession(w, http.StatusOK, sess)
}

func (s *Server) handleDeleteSession(w http.ResponseWriter, r *http.Request) {
	if err := s.tutor.Store().Delete(chi.URLParam(r, "sessionID")); err != nil {
		writeDomainError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleSelectCharacter(w http.ResponseWriter, r *http.Request) {
	var req api.CharacterRequest
	if err := s.parseJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	sess, err := s.tutor.SelectCharacter(chi.URLParam(r, "sessionID"), req.Character)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	s.writeSession(w, http.StatusOK, sess)
}

func (s *Server) handleSetPage(w http.ResponseWriter, r *http.Request) {
	var req api.PageRequest
	if err := s.parseJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	page, err := tutor.ParsePage(req.Page)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	sess, err := s.tutor.Store().SetPage(chi.URLParam(r, "sessionID"), page)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	s.writeSession(w, http.StatusOK, sess)
}

func (s *Server) handleSendMessage(w http.ResponseWriter, r *http.Request) {
	var req api.MessageRequest
	if err := s.parseJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	sessionID := chi.URLParam(r, "sessionID")
	reply, err := s.tutor.Send(r.Context(), sessionID, llm.Selection{Provider: req.Provider, APIKey: req.APIKey}, req.Content)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, api.MessageResponse{Role: llm.RoleAssistant, Content: reply})
}

func (s *Server) writeSession(w http.ResponseWriter, status int, sess *tutor.Session) {
	ch, err := s.tutor.Character(sess)
	if err != nil {
		slog.Warn("Session has unknown character", "session_id", sess.ID, "character", sess.CharacterID)
		ch = catalog.Character{ID: sess.CharacterID}
	}
	writeJSON(w, status, api.NewSessionResponse(sess, ch))
}
