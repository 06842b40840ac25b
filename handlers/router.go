package handlers

import (
	"net/http"

	"github.com/gorilla/mux"

	"benders-server/metrics"
	"benders-server/middleware"
	"benders-server/services"
)

// Services bundles what the router dispatches to.
type Services struct {
	Auth    *services.AuthService
	Users   *services.UserService
	Friends *services.FriendService
	Benders *services.BenderService
}

// NewRouter wires every route. Routes other than /auth, /metrics and /healthz
// require a bearer token.
func NewRouter(svc Services, health *HealthHandler, allowedOrigins []string) *mux.Router {
	authHandler := NewAuthHandler(svc.Auth)
	userHandler := NewUserHandler(svc.Users)
	friendHandler := NewFriendHandler(svc.Friends)
	benderHandler := NewBenderHandler(svc.Benders)

	r := mux.NewRouter()
	r.Use(middleware.ErrorMiddleware())
	r.Use(middleware.RequestLogger)
	r.Use(metrics.InstrumentHandler)
	r.Use(middleware.CORSMiddleware(allowedOrigins))

	r.Handle("/metrics", metrics.Handler()).Methods(http.MethodGet)
	r.HandleFunc("/healthz", health.Health).Methods(http.MethodGet)

	// Auth routes
	authRouter := r.PathPrefix("/auth").Subrouter()
	authRouter.HandleFunc("/signup", authHandler.SignUp).Methods("POST", "OPTIONS")
	authRouter.HandleFunc("/signin", authHandler.SignIn).Methods("POST", "OPTIONS")
	authRouter.HandleFunc("/signout", authHandler.SignOut).Methods("POST", "OPTIONS")
	authRouter.HandleFunc("/reset-password", authHandler.ResetPassword).Methods("POST", "OPTIONS")
	authRouter.HandleFunc("/reset-password/confirm", authHandler.ConfirmPasswordReset).Methods("POST", "OPTIONS")
	authRouter.HandleFunc("/username-available", authHandler.UsernameAvailable).Methods("GET", "OPTIONS")

	api := r.PathPrefix("/").Subrouter()
	api.Use(middleware.JWTMiddleware(svc.Auth))

	// Profile routes
	api.HandleFunc("/me", userHandler.GetMe).Methods("GET", "OPTIONS")
	api.HandleFunc("/me", userHandler.UpdateMe).Methods("PATCH", "OPTIONS")
	api.HandleFunc("/me/push-token", userHandler.SetPushToken).Methods("PUT", "OPTIONS")
	api.HandleFunc("/users/search", userHandler.Search).Methods("GET", "OPTIONS")

	// Friend routes
	api.HandleFunc("/friends", friendHandler.GetFriends).Methods("GET", "OPTIONS")
	api.HandleFunc("/friends/requests", friendHandler.PendingRequests).Methods("GET", "OPTIONS")
	api.HandleFunc("/friends/requests", friendHandler.SendRequest).Methods("POST", "OPTIONS")
	api.HandleFunc("/friends/requests/{id}/accept", friendHandler.AcceptRequest).Methods("POST", "OPTIONS")
	api.HandleFunc("/friends/requests/{id}/reject", friendHandler.RejectRequest).Methods("POST", "OPTIONS")
	api.HandleFunc("/friends/suggestions", friendHandler.Suggestions).Methods("GET", "OPTIONS")
	api.HandleFunc("/friends/reconcile", friendHandler.Reconcile).Methods("POST", "OPTIONS")
	api.HandleFunc("/friends/{id}", friendHandler.RemoveFriend).Methods("DELETE", "OPTIONS")
	api.HandleFunc("/blocks", friendHandler.Blocked).Methods("GET", "OPTIONS")
	api.HandleFunc("/blocks/{id}", friendHandler.Block).Methods("PUT", "OPTIONS")
	api.HandleFunc("/blocks/{id}", friendHandler.Unblock).Methods("DELETE", "OPTIONS")

	// Bender routes
	api.HandleFunc("/benders", benderHandler.ListActive).Methods("GET", "OPTIONS")
	api.HandleFunc("/benders", benderHandler.Create).Methods("POST", "OPTIONS")
	api.HandleFunc("/benders/nearby", benderHandler.Nearby).Methods("GET", "OPTIONS")
	api.HandleFunc("/benders/{id}", benderHandler.Get).Methods("GET", "OPTIONS")
	api.HandleFunc("/benders/{id}/join", benderHandler.Join).Methods("POST", "OPTIONS")
	api.HandleFunc("/benders/{id}/leave", benderHandler.Leave).Methods("POST", "OPTIONS")
	api.HandleFunc("/benders/{id}/end", benderHandler.End).Methods("POST", "OPTIONS")
	api.HandleFunc("/benders/{id}/beers", benderHandler.SetBeerCount).Methods("PUT", "OPTIONS")
	api.HandleFunc("/benders/{id}/beers/increment", benderHandler.IncrementBeerCount).Methods("POST", "OPTIONS")
	api.HandleFunc("/benders/{id}/beers/decrement", benderHandler.DecrementBeerCount).Methods("POST", "OPTIONS")
	api.HandleFunc("/benders/{id}/location-status", benderHandler.SetLocationStatus).Methods("PUT", "OPTIONS")
	api.HandleFunc("/benders/{id}/location", benderHandler.UpdateLocation).Methods("PUT", "OPTIONS")

	return r
}
