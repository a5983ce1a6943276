package middleware

import (
	"context"
	"net/http"

	"github.com/cmlabs-hris/payroll-engine/internal/domain/payroll"
	"github.com/cmlabs-hris/payroll-engine/internal/handler/http/response"
	"github.com/go-chi/jwtauth/v5"
)

type companyIDKey struct{}

// RequireCompany copies the token's company_id claim into the request context.
func RequireCompany(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, claims, err := jwtauth.FromContext(r.Context())
		if err != nil {
			response.HandleError(w, payroll.ErrCompanyIDRequired)
			return
		}

		companyID, ok := claims["company_id"].(string)
		if !ok || companyID == "" {
			response.HandleError(w, payroll.ErrCompanyIDRequired)
			return
		}

		ctx := context.WithValue(r.Context(), companyIDKey{}, companyID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// CompanyID returns the company set by RequireCompany.
func CompanyID(ctx context.Context) string {
	companyID, _ := ctx.Value(companyIDKey{}).(string)
	return companyID
}
