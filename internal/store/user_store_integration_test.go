// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

//go:build integration

package store_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	. "github.com/onsi/ginkgo/v2" //nolint:revive // ginkgo convention
	. "github.com/onsi/gomega"    //nolint:revive // gomega convention

	"github.com/holomush/authd/internal/auth"
	"github.com/holomush/authd/internal/auth/postgres"
)

func newUser(username, email string) *auth.User {
	now := time.Now().UTC().Truncate(time.Microsecond)
	return &auth.User{
		ID:           ulid.Make(),
		Username:     username,
		Email:        email,
		PasswordHash: "$argon2id$v=19$m=65536,t=1,p=4$c2FsdA$aGFzaA",
		TokenVersion: 1,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
}

func conflictField(err error) string {
	var conflict *auth.ConflictError
	if errors.As(err, &conflict) {
		return conflict.Field
	}
	return ""
}

var _ = Describe("postgres.UserStore", func() {
	var (
		ctx   context.Context
		users *postgres.UserStore
	)

	BeforeEach(func() {
		ctx = context.Background()
		truncateUsers()
		users = postgres.NewUserStore(pool)
	})

	It("answers pings", func() {
		Expect(users.Ping(ctx)).To(Succeed())
	})

	Describe("Insert", func() {
		It("round-trips a user by email, username and id", func() {
			u := newUser("alice", "alice@example.com")
			name := "Alice"
			u.Name = &name
			Expect(users.Insert(ctx, u)).To(Succeed())

			byEmail, err := users.FindByEmailOrUsername(ctx, "alice@example.com")
			Expect(err).NotTo(HaveOccurred())
			Expect(byEmail.ID).To(Equal(u.ID))
			Expect(*byEmail.Name).To(Equal("Alice"))
			Expect(byEmail.TokenVersion).To(Equal(int64(1)))
			Expect(byEmail.CreatedAt).To(BeTemporally("~", u.CreatedAt, time.Millisecond))

			byName, err := users.FindByEmailOrUsername(ctx, "alice")
			Expect(err).NotTo(HaveOccurred())
			Expect(byName.ID).To(Equal(u.ID))

			byID, err := users.FindByID(ctx, u.ID)
			Expect(err).NotTo(HaveOccurred())
			Expect(byID.Email).To(Equal("alice@example.com"))
		})

		It("keeps usernames case-sensitive", func() {
			Expect(users.Insert(ctx, newUser("alice", "alice@example.com"))).To(Succeed())
			Expect(users.Insert(ctx, newUser("Alice", "other@example.com"))).To(Succeed())

			_, err := users.FindByEmailOrUsername(ctx, "ALICE")
			Expect(errors.Is(err, auth.ErrNotFound)).To(BeTrue())
		})

		It("reports an email conflict", func() {
			Expect(users.Insert(ctx, newUser("alice", "alice@example.com"))).To(Succeed())
			err := users.Insert(ctx, newUser("bob", "alice@example.com"))
			Expect(conflictField(err)).To(Equal(auth.FieldEmail))
		})

		It("reports a username conflict", func() {
			Expect(users.Insert(ctx, newUser("alice", "alice@example.com"))).To(Succeed())
			err := users.Insert(ctx, newUser("alice", "bob@example.com"))
			Expect(conflictField(err)).To(Equal(auth.FieldUsername))
		})

		It("prefers email when both collide", func() {
			Expect(users.Insert(ctx, newUser("alice", "alice@example.com"))).To(Succeed())
			err := users.Insert(ctx, newUser("alice", "alice@example.com"))
			Expect(conflictField(err)).To(Equal(auth.FieldEmail))
		})

		It("admits exactly one of many concurrent registrations", func() {
			const n = 16
			var (
				wg        sync.WaitGroup
				mu        sync.Mutex
				successes int
				conflicts int
			)
			for i := range n {
				wg.Add(1)
				go func() {
					defer GinkgoRecover()
					defer wg.Done()
					err := users.Insert(ctx, newUser(fmt.Sprintf("racer%d", i), "race@example.com"))
					mu.Lock()
					defer mu.Unlock()
					switch {
					case err == nil:
						successes++
					case conflictField(err) == auth.FieldEmail:
						conflicts++
					}
				}()
			}
			wg.Wait()
			Expect(successes).To(Equal(1))
			Expect(conflicts).To(Equal(n - 1))
		})
	})

	Describe("reset tokens", func() {
		var (
			u   *auth.User
			now time.Time
		)

		BeforeEach(func() {
			u = newUser("alice", "alice@example.com")
			Expect(users.Insert(ctx, u)).To(Succeed())
			now = time.Now().UTC().Truncate(time.Second)
			Expect(users.SetResetToken(ctx, u.ID, "digest-1", now.Add(time.Hour))).To(Succeed())
		})

		It("finds a live token and hides an expired one", func() {
			found, err := users.FindByResetToken(ctx, "digest-1", now)
			Expect(err).NotTo(HaveOccurred())
			Expect(found.ID).To(Equal(u.ID))

			_, err = users.FindByResetToken(ctx, "digest-1", now.Add(time.Hour))
			Expect(errors.Is(err, auth.ErrNotFound)).To(BeTrue())
		})

		It("replaces the outstanding token", func() {
			Expect(users.SetResetToken(ctx, u.ID, "digest-2", now.Add(time.Hour))).To(Succeed())

			_, err := users.FindByResetToken(ctx, "digest-1", now)
			Expect(errors.Is(err, auth.ErrNotFound)).To(BeTrue())
			_, err = users.FindByResetToken(ctx, "digest-2", now)
			Expect(err).NotTo(HaveOccurred())
		})

		It("redeems once and bumps the token version", func() {
			Expect(users.UpdatePasswordAndClearReset(ctx, u.ID, "new-hash", "digest-1")).To(Succeed())

			got, err := users.FindByID(ctx, u.ID)
			Expect(err).NotTo(HaveOccurred())
			Expect(got.PasswordHash).To(Equal("new-hash"))
			Expect(got.ResetTokenHash).To(BeNil())
			Expect(got.ResetTokenExpiry).To(BeNil())
			Expect(got.TokenVersion).To(Equal(int64(2)))

			err = users.UpdatePasswordAndClearReset(ctx, u.ID, "other-hash", "digest-1")
			Expect(errors.Is(err, auth.ErrNotFound)).To(BeTrue())
		})

		It("lets only one concurrent redemption through", func() {
			const n = 8
			var (
				wg sync.WaitGroup
				mu sync.Mutex
				ok int
			)
			for i := range n {
				wg.Add(1)
				go func() {
					defer GinkgoRecover()
					defer wg.Done()
					if users.UpdatePasswordAndClearReset(ctx, u.ID, fmt.Sprintf("hash-%d", i), "digest-1") == nil {
						mu.Lock()
						ok++
						mu.Unlock()
					}
				}()
			}
			wg.Wait()
			Expect(ok).To(Equal(1))
		})

		It("updates the hash without touching reset state", func() {
			Expect(users.UpdatePasswordHash(ctx, u.ID, "upgraded")).To(Succeed())

			got, err := users.FindByID(ctx, u.ID)
			Expect(err).NotTo(HaveOccurred())
			Expect(got.PasswordHash).To(Equal("upgraded"))
			Expect(got.ResetTokenHash).NotTo(BeNil())
			Expect(got.TokenVersion).To(Equal(int64(1)))
		})

		It("purges only expired tokens", func() {
			other := newUser("bob", "bob@example.com")
			Expect(users.Insert(ctx, other)).To(Succeed())
			Expect(users.SetResetToken(ctx, other.ID, "digest-bob", now.Add(-time.Minute))).To(Succeed())

			n, err := users.PurgeExpiredResetTokens(ctx, now)
			Expect(err).NotTo(HaveOccurred())
			Expect(n).To(Equal(int64(1)))

			_, err = users.FindByResetToken(ctx, "digest-1", now)
			Expect(err).NotTo(HaveOccurred())
		})

		It("rejects a token digest held by another user", func() {
			other := newUser("bob", "bob@example.com")
			Expect(users.Insert(ctx, other)).To(Succeed())

			err := users.SetResetToken(ctx, other.ID, "digest-1", now.Add(time.Hour))
			Expect(err).To(HaveOccurred())
		})
	})
})
