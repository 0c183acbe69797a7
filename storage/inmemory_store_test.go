package storage_test

import (
	"context"

	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"

	"github.com/luma/lrcp/storage"
)

var _ = Describe("storage / InmemoryStore", func() {
	Describe("Close()", func() {
		It("does not panic when closed twice", func() {
			store := storage.NewInmemoryStore()
			defer store.Close()

			Expect(func() { store.Close() }).NotTo(Panic())
			Expect(func() { store.Close() }).NotTo(Panic())
		})

		It("refuses writes once closed", func() {
			store := storage.NewInmemoryStore()
			Expect(store.Close()).To(Succeed())

			err := store.Set(context.Background(), []byte("foo"), "bar")
			Expect(err).To(MatchError(storage.ErrStoreClosed))
		})

		It("closes the update channels", func() {
			store := storage.NewInmemoryStore()
			updateChan := store.ListenToUpdates()
			Expect(store.Close()).To(Succeed())

			Eventually(updateChan).Should(BeClosed())
		})
	})

	It("an empty inmemory store equals {}", func() {
		store := storage.NewInmemoryStore()
		defer store.Close()

		value, err := store.Backup()
		Expect(err).To(Succeed())
		Expect(string(value)).To(Equal(`{}`))
	})

	Describe("Set() / Get()", func() {
		It("can read a key that is written", func() {
			store := storage.NewInmemoryStore()
			defer store.Close()

			err := store.Set(context.Background(), []byte("foo"), "bar")
			Expect(err).To(Succeed())

			Expect(store.Get(context.Background(), []byte("foo"))).To(Equal([]byte(`"bar"`)))

			value, err := store.Backup()
			Expect(err).To(Succeed())
			Expect(string(value)).To(Equal(`{"foo":"bar"}`))
		})

		It("stores structs as JSON objects", func() {
			store := storage.NewInmemoryStore()
			defer store.Close()

			type stats struct {
				Lines int `json:"lines"`
			}

			Expect(store.Set(context.Background(), []byte("session_1"), stats{Lines: 3})).To(Succeed())
			Expect(store.Get(context.Background(), []byte("session_1.lines"))).To(Equal([]byte(`3`)))
		})

		It("returns ErrKeyNotFound for missing keys", func() {
			store := storage.NewInmemoryStore()
			defer store.Close()

			_, err := store.Get(context.Background(), []byte("missing"))
			Expect(err).To(MatchError(storage.ErrKeyNotFound))
		})

		It("sends on the update channel when values are set", func() {
			store := storage.NewInmemoryStore()
			defer store.Close()

			updateChan := store.ListenToUpdates()
			err := store.Set(context.Background(), []byte("foo"), "bar")
			Expect(err).To(Succeed())

			update, ok := <-updateChan
			Expect(ok).To(BeTrue())
			Expect(update).To(Equal(&storage.Update{
				Key:   []byte("foo"),
				Value: []byte(`"bar"`),
			}))
		})
	})

	Describe("Delete()", func() {
		It("removes the key", func() {
			store := storage.NewInmemoryStore()
			defer store.Close()

			Expect(store.Set(context.Background(), []byte("foo"), "bar")).To(Succeed())
			Expect(store.Set(context.Background(), []byte("baz"), 1)).To(Succeed())
			Expect(store.Delete(context.Background(), []byte("foo"))).To(Succeed())

			_, err := store.Get(context.Background(), []byte("foo"))
			Expect(err).To(MatchError(storage.ErrKeyNotFound))

			value, err := store.Backup()
			Expect(err).To(Succeed())
			Expect(string(value)).To(Equal(`{"baz":1}`))
		})
	})

	Describe("Restore() / Backup()", func() {
		It("round trips a document", func() {
			store := storage.NewInmemoryStore()
			defer store.Close()

			Expect(store.Restore([]byte(`{"foo":{"bar":1}}`))).To(Succeed())
			Expect(store.Get(context.Background(), []byte("foo.bar"))).To(Equal([]byte(`1`)))

			value, err := store.Backup()
			Expect(err).To(Succeed())
			Expect(string(value)).To(Equal(`{"foo":{"bar":1}}`))
		})

		It("rejects invalid JSON", func() {
			store := storage.NewInmemoryStore()
			defer store.Close()

			Expect(store.Restore([]byte(`{nope`))).NotTo(Succeed())
		})
	})
})
