package app

import (
	"fmt"

	"stayflow/internal/domain"
)

// Each email type maps to its own subject/body pair; all share the same
// execution envelope in EmailScheduler.Execute.

func followupMessage(r domain.Reservation) domain.Message {
	return domain.Message{
		To:      r.GuestEmail,
		ToName:  r.GuestName,
		Subject: fmt.Sprintf("Your upcoming stay — booking %s", r.ConfirmationNumber),
		Body: fmt.Sprintf(
			"Hi %s,\n\nYour stay starts on %s. Reply to this email if there is anything we can prepare for your arrival.\n",
			r.GuestName, r.CheckIn.Format("2 January 2006")),
	}
}

func checkinMessage(r domain.Reservation) domain.Message {
	return domain.Message{
		To:      r.GuestEmail,
		ToName:  r.GuestName,
		Subject: fmt.Sprintf("How is your stay? — booking %s", r.ConfirmationNumber),
		Body: fmt.Sprintf(
			"Hi %s,\n\nYou checked in yesterday. Is everything as expected? Let us know if anything needs attention.\n",
			r.GuestName),
	}
}

func checkoutMessage(r domain.Reservation) domain.Message {
	return domain.Message{
		To:      r.GuestEmail,
		ToName:  r.GuestName,
		Subject: fmt.Sprintf("Thanks for staying with us — booking %s", r.ConfirmationNumber),
		Body: fmt.Sprintf(
			"Hi %s,\n\nThank you for your stay. We would love to hear how it went.\n",
			r.GuestName),
	}
}

func renderMessage(t domain.EmailType, r domain.Reservation) domain.Message {
	switch t {
	case domain.EmailPostBookingFollowup:
		return followupMessage(r)
	case domain.EmailPostCheckin:
		return checkinMessage(r)
	case domain.EmailPostCheckout:
		return checkoutMessage(r)
	}
	// Unknown types are filtered before rendering; this keeps the switch total.
	return domain.Message{To: r.GuestEmail, ToName: r.GuestName}
}

func confirmationMessage(r domain.Reservation) domain.Message {
	return domain.Message{
		To:      r.GuestEmail,
		ToName:  r.GuestName,
		Subject: fmt.Sprintf("Booking confirmed — %s", r.ConfirmationNumber),
		Body: fmt.Sprintf(
			"Hi %s,\n\nYour booking %s is confirmed: %s to %s.\nWe look forward to welcoming you.\n",
			r.GuestName, r.ConfirmationNumber,
			r.CheckIn.Format("2 January 2006"), r.CheckOut.Format("2 January 2006")),
	}
}
