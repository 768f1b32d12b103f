// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

//go:build integration

package store_test

import (
	. "github.com/onsi/ginkgo/v2" //nolint:revive // ginkgo convention
	. "github.com/onsi/gomega"    //nolint:revive // gomega convention

	"github.com/holomush/authd/internal/store"
)

var _ = Describe("Migrator", Ordered, func() {
	var migrator *store.Migrator

	BeforeAll(func() {
		var err error
		migrator, err = store.NewMigrator(connStr)
		Expect(err).NotTo(HaveOccurred())
	})

	AfterAll(func() {
		// Leave the schema applied for the user store suite.
		Expect(migrator.Up()).To(Succeed())
		Expect(migrator.Close()).To(Succeed())
	})

	It("reports the applied schema", func() {
		st, err := migrator.Status()
		Expect(err).NotTo(HaveOccurred())
		Expect(st.Version).To(BeNumerically(">=", 1))
		Expect(st.Dirty).To(BeFalse())
		Expect(st.Pending).To(BeEmpty())
	})

	It("treats a repeated Up as a no-op", func() {
		Expect(migrator.Up()).To(Succeed())
	})

	It("rolls back and re-applies one step", func() {
		before, _, err := migrator.Version()
		Expect(err).NotTo(HaveOccurred())

		Expect(migrator.Rollback(1)).To(Succeed())
		after, _, err := migrator.Version()
		Expect(err).NotTo(HaveOccurred())
		Expect(after).To(Equal(before - 1))

		Expect(migrator.Up()).To(Succeed())
	})

	It("drops everything on Down and reports pending afterwards", func() {
		Expect(migrator.Down()).To(Succeed())

		st, err := migrator.Status()
		Expect(err).NotTo(HaveOccurred())
		Expect(st.Version).To(BeZero())
		Expect(st.Applied).To(BeEmpty())
		Expect(st.Pending).NotTo(BeEmpty())
	})

	It("forces a version without running migrations", func() {
		Expect(migrator.Up()).To(Succeed())
		Expect(migrator.Force(1)).To(Succeed())

		v, dirty, err := migrator.Version()
		Expect(err).NotTo(HaveOccurred())
		Expect(v).To(Equal(uint(1)))
		Expect(dirty).To(BeFalse())
	})
})
