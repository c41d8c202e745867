package main

import (
	"floorchat/internal/auth"
	"floorchat/internal/store"
	"floorchat/internal/store/memstore"

	"go.uber.org/zap"
)

// seedDemo fills the in-memory store with two floors and a handful of users
// and logs a session token for each, so STORE_DRIVER=memory is usable with
// cmd/chatclient straight away.
func seedDemo(ms *memstore.MemStore, issuer *auth.Issuer) {
	ms.PutFloor(store.Floor{ID: "floor-1", Name: "Floor 1", BuildingName: "North Hall"})
	ms.PutFloor(store.Floor{ID: "floor-2", Name: "Floor 2", BuildingName: "North Hall"})

	users := []struct {
		user  store.User
		floor string
	}{
		{store.User{ID: "alice", Name: "Alice", Email: "alice@example.com", Role: store.RoleMember}, "floor-1"},
		{store.User{ID: "bob", Email: "bob@example.com", Role: store.RoleMember}, "floor-1"},
		{store.User{ID: "rita", Name: "Rita", Email: "rita@example.com", Role: store.RoleFloorRepresentative}, "floor-1"},
		{store.User{ID: "carol", Name: "Carol", Email: "carol@example.com", Role: store.RoleMember}, "floor-2"},
		{store.User{ID: "root", Name: "Admin", Email: "admin@example.com", Role: store.RoleAdmin}, "floor-2"},
	}
	for _, u := range users {
		ms.PutUser(u.user)
		ms.Assign(u.user.ID, u.floor)

		token, _, err := issuer.IssueSession(u.user.ID)
		if err != nil {
			zap.L().Error("seed.session_token", zap.String("user", u.user.ID), zap.Error(err))
			continue
		}
		zap.L().Info("seed.user",
			zap.String("user", u.user.ID),
			zap.String("floor", u.floor),
			zap.String("role", u.user.Role),
			zap.String("session_token", token))
	}
}
