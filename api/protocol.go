package api

import (
	"math"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/bytedance/sonic"
	"github.com/labstack/echo/v4"
)

// BodyLimit caps request bodies after decompression.
const BodyLimit = "64K"

const maxBodyBytes = 64 * 1024

// Response messages.
const (
	msgUserCreated    = "User created successfully"
	msgUserLoggedIn   = "User logged in successfully"
	msgTaskAdded      = "Task added successfully"
	msgTaskUpdated    = "Task updated successfully"
	msgTaskReordered  = "Task reordered successfully"
	msgTaskDeleted    = "Task deleted successfully"
	msgInternal       = "Internal Server Error"
	msgSomethingWrong = "Something went wrong"
	msgTaskNotFound   = "Task not found"
	msgListNotFound   = "List not found"
	msgConflict       = "Task list was modified concurrently, retry"
	msgListTooLarge   = "Task list is too large to reorder"
	msgDuplicate      = "Duplicate request"
	msgInvalidBody    = "Invalid request body"
)

const (
	headerIdempotency  = "Idempotency-Key"
	maxIdempotencySize = 128
)

// POST /api/auth/register
type registerRequest struct {
	FirstName string `json:"firstName" validate:"required"`
	LastName  string `json:"lastName" validate:"required"`
	Email     string `json:"email" validate:"required,email"`
	Password  string `json:"password" validate:"min=6"`
}

// POST /api/auth/login
type loginRequest struct {
	VerifyToken string `json:"verifyToken" validate:"required"`
}

// POST /api/auth/google-login
type googleLoginRequest struct {
	IDToken string `json:"idToken" validate:"required"`
}

// POST /api/tasks/addTask
type addTaskRequest struct {
	Title       string `json:"title"`
	Description string `json:"description"`
}

// PUT /api/tasks/:id
type updateTaskRequest struct {
	ID          string  `param:"id" json:"-" validate:"required"`
	ListID      string  `json:"listId" validate:"required"`
	Title       *string `json:"title"`
	Description *string `json:"description"`
}

// POST|PUT /api/tasks/reorder
type reorderRequest struct {
	ListID      string     `json:"listId" validate:"required"`
	NewList     string     `json:"newList"`
	ID          string     `json:"id" validate:"required"`
	Order       orderValue `json:"order" validate:"order"`
	Title       *string    `json:"title"`
	Description *string    `json:"description"`
}

// DELETE /api/tasks/?listId=&id=
type deleteTaskQuery struct {
	ListID string `query:"listId" validate:"required"`
	ID     string `query:"id" validate:"required"`
}

type errorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
}

type messageResponse struct {
	Message string `json:"message"`
	TaskID  string `json:"taskId,omitempty"`
	User    any    `json:"user,omitempty"`
}

type fieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

type validationResponse struct {
	Errors []fieldError `json:"errors"`
}

type profileResponse struct {
	ID        string     `json:"id"`
	Name      string     `json:"name"`
	Email     string     `json:"email"`
	Avatar    string     `json:"avatar,omitempty"`
	CreatedAt *time.Time `json:"createdAt,omitempty"`
}

// orderValue holds the raw order of a reorder request. Clients send either a
// JSON number or a numeric string.
type orderValue string

func (o *orderValue) UnmarshalJSON(data []byte) error {
	s := strings.TrimSpace(string(data))
	if s == "null" {
		*o = ""
		return nil
	}
	if unquoted, err := strconv.Unquote(s); err == nil {
		s = unquoted
	}
	*o = orderValue(strings.TrimSpace(s))
	return nil
}

// Int returns the order as a non-negative integer.
func (o orderValue) Int() (int, bool) {
	if o == "" {
		return 0, false
	}
	f, err := strconv.ParseFloat(string(o), 64)
	if err != nil || f < 0 || f > math.MaxInt32 || f != math.Trunc(f) {
		return 0, false
	}
	return int(f), true
}

// sanitizer mirrors the entity set browsers expect from escaped form input.
var sanitizer = strings.NewReplacer(
	"&", "&amp;",
	`"`, "&quot;",
	"'", "&#x27;",
	"<", "&lt;",
	">", "&gt;",
	"/", "&#x2F;",
	`\`, "&#x5C;",
	"`", "&#96;",
)

func sanitize(s string) string {
	return sanitizer.Replace(strings.TrimSpace(s))
}

func sanitizePtr(s *string) *string {
	if s == nil {
		return nil
	}
	v := sanitize(*s)
	return &v
}

// JSONSerializer implements echo.JSONSerializer with sonic.
type JSONSerializer struct{}

func (JSONSerializer) Serialize(c echo.Context, i any, indent string) error {
	enc := sonic.ConfigStd.NewEncoder(c.Response())
	if indent != "" {
		enc.SetIndent("", indent)
	}
	return enc.Encode(i)
}

func (JSONSerializer) Deserialize(c echo.Context, i any) error {
	if err := sonic.ConfigStd.NewDecoder(c.Request().Body).Decode(i); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, msgInvalidBody).SetInternal(err)
	}
	return nil
}
