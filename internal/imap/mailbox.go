package imap

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/emersion/go-imap"
	"github.com/emersion/go-imap/client"
	"github.com/emersion/go-imap/commands"
)

// fetchBuffer bounds how many fetched messages wait in memory for the handler.
const fetchBuffer = 8

// FetchedMessage is one message streamed by FetchSince.
type FetchedMessage struct {
	UID          uint32
	Flags        []string
	InternalDate time.Time
	Envelope     *imap.Envelope
	Raw          []byte
}

// Seen reports whether the message carries the \Seen flag.
func (m FetchedMessage) Seen() bool {
	for _, flag := range m.Flags {
		if flag == imap.SeenFlag {
			return true
		}
	}
	return false
}

// Mailbox is a selected folder. It is only valid inside Session.WithMailbox.
type Mailbox struct {
	client *client.Client
	name   string
	status *imap.MailboxStatus
	ctx    context.Context
}

// Name returns the selected folder.
func (m *Mailbox) Name() string {
	return m.name
}

// UIDValidity returns the UIDVALIDITY of the selected folder.
func (m *Mailbox) UIDValidity() uint32 {
	return m.status.UidValidity
}

// FetchSince streams every message with a UID above lastUID to handle, in server order.
// Messages are fetched with BODY.PEEK so the \Seen flag is left alone. When handle returns an
// error, the remaining messages are drained without being handled and the error is returned.
func (m *Mailbox) FetchSince(lastUID uint32, handle func(FetchedMessage) error) error {
	if m.status.Messages == 0 {
		return nil
	}

	seqSet := new(imap.SeqSet)
	seqSet.AddRange(lastUID+1, 0)

	section := &imap.BodySectionName{Peek: true}
	items := []imap.FetchItem{
		imap.FetchUid,
		imap.FetchFlags,
		imap.FetchInternalDate,
		imap.FetchEnvelope,
		section.FetchItem(),
	}

	messages := make(chan *imap.Message, fetchBuffer)
	done := make(chan error, 1)

	go func() {
		done <- m.client.UidFetch(seqSet, items, messages)
	}()

	var handleErr error
	for msg := range messages {
		if handleErr != nil {
			continue
		}
		// "N:*" always returns the last message, even when its UID is below N.
		if msg.Uid <= lastUID {
			continue
		}
		if err := m.ctx.Err(); err != nil {
			handleErr = err
			continue
		}

		fetched := FetchedMessage{
			UID:          msg.Uid,
			Flags:        msg.Flags,
			InternalDate: msg.InternalDate,
			Envelope:     msg.Envelope,
		}
		if body := msg.GetBody(section); body != nil {
			raw, err := io.ReadAll(body)
			if err != nil {
				handleErr = fmt.Errorf("failed to read message UID %d: %w", msg.Uid, err)
				continue
			}
			fetched.Raw = raw
		}
		handleErr = handle(fetched)
	}

	if err := <-done; err != nil {
		return fmt.Errorf("failed to fetch messages: %w", err)
	}
	return handleErr
}

// Move moves the message with the given UID to dest. Servers without MOVE, or rejecting it,
// get a copy, flag and expunge sequence.
func (m *Mailbox) Move(uid uint32, dest string) error {
	seqSet := new(imap.SeqSet)
	seqSet.AddNum(uid)

	supported, err := m.client.Support("MOVE")
	if err != nil {
		return fmt.Errorf("failed to read capabilities: %w", err)
	}
	if supported {
		cmd := &commands.Uid{Cmd: &commands.Move{SeqSet: seqSet, Mailbox: dest}}
		status, err := m.client.Execute(cmd, nil)
		if err != nil {
			return fmt.Errorf("failed to move UID %d to %s: %w", uid, dest, err)
		}
		if status != nil && status.Type == imap.StatusRespOk {
			return nil
		}
	}

	return m.moveFallback(uid, seqSet, dest)
}

func (m *Mailbox) moveFallback(uid uint32, seqSet *imap.SeqSet, dest string) error {
	if err := m.client.UidCopy(seqSet, dest); err != nil {
		return fmt.Errorf("failed to copy UID %d to %s: %w", uid, dest, err)
	}
	if err := m.storeDeleted(seqSet, imap.AddFlags); err != nil {
		return fmt.Errorf("failed to flag UID %d as deleted: %w", uid, err)
	}
	if err := m.expungeOnly(uid, seqSet); err != nil {
		return fmt.Errorf("failed to expunge UID %d: %w", uid, err)
	}
	return nil
}

// expungeOnly removes the message with the given UID and leaves other \Deleted messages
// alone. Without UIDPLUS their flag is lifted for the plain EXPUNGE and put back afterwards.
func (m *Mailbox) expungeOnly(uid uint32, seqSet *imap.SeqSet) error {
	uidPlus, err := m.client.Support("UIDPLUS")
	if err != nil {
		return err
	}
	if uidPlus {
		status, err := m.client.Execute(&uidExpunge{seqSet: seqSet}, nil)
		if err != nil {
			return err
		}
		return status.Err()
	}

	criteria := imap.NewSearchCriteria()
	criteria.WithFlags = []string{imap.DeletedFlag}
	deleted, err := m.client.UidSearch(criteria)
	if err != nil {
		return fmt.Errorf("failed to search deleted messages: %w", err)
	}
	var otherUIDs []uint32
	for _, other := range deleted {
		if other != uid {
			otherUIDs = append(otherUIDs, other)
		}
	}
	if len(otherUIDs) == 0 {
		return m.client.Expunge(nil)
	}

	others := new(imap.SeqSet)
	others.AddNum(otherUIDs...)

	if err := m.storeDeleted(others, imap.RemoveFlags); err != nil {
		return err
	}
	expungeErr := m.client.Expunge(nil)
	if err := m.storeDeleted(others, imap.AddFlags); err != nil {
		return errors.Join(expungeErr, fmt.Errorf("failed to restore deleted flags: %w", err))
	}
	return expungeErr
}

func (m *Mailbox) storeDeleted(seqSet *imap.SeqSet, op imap.FlagsOp) error {
	item := imap.FormatFlagsOp(op, true)
	return m.client.UidStore(seqSet, item, []interface{}{imap.DeletedFlag}, nil)
}

// uidExpunge is UID EXPUNGE from RFC 4315.
type uidExpunge struct {
	seqSet *imap.SeqSet
}

func (cmd *uidExpunge) Command() *imap.Command {
	return &imap.Command{
		Name:      "UID",
		Arguments: []interface{}{imap.RawString("EXPUNGE"), cmd.seqSet},
	}
}
