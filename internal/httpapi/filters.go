package httpapi

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/you/chatscoop/internal/store"
)

// FiltersFromRequest parses the shared query parameters for /messages and
// /count: kind (repeatable or comma-separated), author, since (RFC 3339),
// limit, order (asc|desc).
func FiltersFromRequest(r *http.Request) (store.Filters, error) {
	q := r.URL.Query()
	var filters store.Filters

	for _, raw := range q["kind"] {
		for _, kind := range strings.Split(raw, ",") {
			if kind = strings.TrimSpace(kind); kind != "" {
				filters.Kinds = append(filters.Kinds, kind)
			}
		}
	}
	for _, author := range q["author"] {
		if author = strings.TrimSpace(author); author != "" {
			filters.Authors = append(filters.Authors, author)
		}
	}

	if raw := q.Get("since"); raw != "" {
		since, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return store.Filters{}, fmt.Errorf("invalid since %q: want RFC 3339", raw)
		}
		filters.Since = &since
	}

	if raw := q.Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			return store.Filters{}, fmt.Errorf("invalid limit %q", raw)
		}
		filters.Limit = n
	}

	switch q.Get("order") {
	case "":
	case "asc":
		filters.Order = store.OrderAsc
	case "desc":
		filters.Order = store.OrderDesc
	default:
		return store.Filters{}, fmt.Errorf("invalid order %q: want asc or desc", q.Get("order"))
	}

	return filters, nil
}
