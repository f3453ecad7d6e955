package http

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"reflect"
	"strings"

	"nova-battle-service/internal/domain"

	"github.com/go-playground/validator/v10"
)

const maxBodyBytes = 1 << 20

type createRequest struct {
	BattleName string   `json:"battleName" validate:"required,max=120"`
	Tags       []string `json:"tags" validate:"required,min=1,max=10,dive,required,max=40"`
}

type joinRequest struct {
	BattleCode string `json:"battleCode" validate:"required,max=16"`
}

type evaluateRequest struct {
	BattleID       string          `json:"battleId" validate:"required"`
	Username       string          `json:"username"`
	Answers        []domain.Answer `json:"answers" validate:"max=200"`
	CompletionTime float64         `json:"completionTime" validate:"gte=0"`
	Finish         bool            `json:"finish"`
}

type analysisRequest struct {
	BattleID string `json:"battleId" validate:"required"`
}

type sessionRequest struct {
	Username string `json:"username" validate:"required,max=64"`
}

type battlesResponse struct {
	Battles []domain.PublicBattle `json:"battles"`
}

func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// decode reads a JSON body into dst and validates it. Failures wrap domain.ErrValidation.
func (h *Handler) decode(r *http.Request, dst interface{}) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return fmt.Errorf("%w: request body is empty", domain.ErrValidation)
		}
		return fmt.Errorf("%w: malformed json: %v", domain.ErrValidation, err)
	}
	if err := h.validate.Struct(dst); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			return fmt.Errorf("%w: %s", domain.ErrValidation, describe(verrs))
		}
		return fmt.Errorf("%w: %v", domain.ErrValidation, err)
	}
	return nil
}

func describe(verrs validator.ValidationErrors) string {
	parts := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		switch fe.Tag() {
		case "required":
			parts = append(parts, fe.Field()+" is required")
		case "min", "max", "gte":
			parts = append(parts, fmt.Sprintf("%s must satisfy %s=%s", fe.Field(), fe.Tag(), fe.Param()))
		default:
			parts = append(parts, fe.Field()+" is invalid")
		}
	}
	return strings.Join(parts, "; ")
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
