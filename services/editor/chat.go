package editor

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"agentflow/services/chat"
	"agentflow/services/tool"
)

// maxAttachment caps the size of a staged attachment.
const maxAttachment = 32 << 20

// HandleGetChat returns the chat session of the open project.
func (s *Service) HandleGetChat(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.chat.Snapshot())
}

// HandleStartChat creates a new chat for the open project.
func (s *Service) HandleStartChat(w http.ResponseWriter, r *http.Request) {
	if !s.ensureProject(w) {
		return
	}
	if _, err := s.chat.Start(r.Context()); err != nil {
		s.writeChatError(w, "start chat", err)
		return
	}
	writeJSON(w, http.StatusCreated, s.chat.Snapshot())
}

// HandleSend posts a user message and returns the reconciled session.
func (s *Service) HandleSend(w http.ResponseWriter, r *http.Request) {
	var req SendRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := s.chat.Send(r.Context(), req.Content); err != nil {
		s.writeChatError(w, "send", err)
		return
	}
	writeJSON(w, http.StatusOK, s.chat.Snapshot())
}

// HandleAbort stops the running agent. The session is aborted locally even
// when the backend call fails, so the state is returned either way.
func (s *Service) HandleAbort(w http.ResponseWriter, r *http.Request) {
	err := s.chat.Abort(r.Context())
	if errors.Is(err, chat.ErrNoSession) {
		writeError(w, http.StatusConflict, "no chat session")
		return
	}
	if err != nil {
		slog.Warn("Abort request failed", "error", err)
	}
	writeJSON(w, http.StatusOK, s.chat.Snapshot())
}

// HandleRefreshChat refetches the transcript and status.
func (s *Service) HandleRefreshChat(w http.ResponseWriter, r *http.Request) {
	if err := s.chat.Refresh(r.Context()); err != nil {
		s.writeChatError(w, "refresh chat", err)
		return
	}
	writeJSON(w, http.StatusOK, s.chat.Snapshot())
}

// HandleStageAttachment stages the multipart "file" part for the next send.
func (s *Service) HandleStageAttachment(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxAttachment)
	if err := r.ParseMultipartForm(maxAttachment); err != nil {
		writeError(w, http.StatusBadRequest, "invalid multipart body")
		return
	}
	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, errMissing("file").Error())
		return
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid multipart body")
		return
	}
	u := tool.Upload{
		Filename:    header.Filename,
		ContentType: header.Header.Get("Content-Type"),
		Data:        data,
	}
	if err := s.chat.Stage(u); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, s.chat.Snapshot())
}

// HandleUnstageAttachment drops the staged attachment.
func (s *Service) HandleUnstageAttachment(w http.ResponseWriter, r *http.Request) {
	s.chat.Unstage()
	writeJSON(w, http.StatusOK, s.chat.Snapshot())
}

// HandleClearMessages deletes the transcript of the active chat.
func (s *Service) HandleClearMessages(w http.ResponseWriter, r *http.Request) {
	if err := s.chat.ClearMessages(r.Context()); err != nil {
		s.writeChatError(w, "clear messages", err)
		return
	}
	writeJSON(w, http.StatusOK, s.chat.Snapshot())
}

// HandleDeleteChat deletes the active chat.
func (s *Service) HandleDeleteChat(w http.ResponseWriter, r *http.Request) {
	if err := s.chat.Delete(r.Context()); err != nil {
		s.writeChatError(w, "delete chat", err)
		return
	}
	writeJSON(w, http.StatusOK, s.chat.Snapshot())
}

// writeChatError maps session errors to a status. Backend failures have
// already been reported as notices.
func (s *Service) writeChatError(w http.ResponseWriter, op string, err error) {
	switch {
	case errors.Is(err, chat.ErrEmptyMessage):
		writeError(w, http.StatusBadRequest, errMissing("content").Error())
	case errors.Is(err, chat.ErrSendInFlight):
		writeError(w, http.StatusConflict, "a message is already being sent")
	case errors.Is(err, chat.ErrAgentRunning):
		writeError(w, http.StatusConflict, "agent is running")
	case errors.Is(err, chat.ErrNoSession):
		writeError(w, http.StatusConflict, "no chat session")
	case errors.Is(err, chat.ErrNoProject):
		writeError(w, http.StatusConflict, errNoProject.Error())
	case errors.Is(err, chat.ErrStale):
		writeError(w, http.StatusConflict, "chat session changed")
	default:
		slog.Error("Chat request failed", "op", op, "error", err)
		writeError(w, http.StatusBadGateway, op+" failed")
	}
}
