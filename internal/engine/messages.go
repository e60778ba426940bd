package engine

import (
	"fmt"
	"time"

	"gitlab.com/timkado/api/daisi-merchant-onboarding/internal/model"
)

// Static conversation copy. Dates shown to merchants always use DD/MM/YYYY.

const dateDisplayLayout = "02/01/2006"

const welcomeMessage = `🎉 Welcome! I'm your merchant onboarding assistant! 🚀

To get started, please share your preferred Go-Live date in DD/MM/YYYY format (e.g., 25/12/2024).

Reply with:
• Your go-live date
• "help" for assistance
• "support" to speak with an agent`

const helpMessage = `🆘 Help Menu:

• Send your go-live date in DD/MM/YYYY format
• Type 'support' to speak with an agent
• Type 'status' to check your progress
• Type 'restart' to begin again`

const restartMessage = "🔄 Conversation reset. Send 'start' to begin again."

const notUnderstoodMessage = "🤔 I don't understand. Try: 'merchant onboarding', 'business setup', or 'MERCHANT2024'"

const fallbackMessage = "🤔 I didn't understand that. Type 'help' for assistance or 'status' to check your progress."

const invalidDateMessage = "❌ Invalid date format. Please use DD/MM/YYYY (e.g., 25/12/2024)"

const augmenterFallbackMessage = "😅 Sorry, I'm having trouble responding right now. Please try again in a moment, or type 'help' for assistance."

const deliveryPromptMessage = `📦 Step 1: Please provide your delivery address for hardware shipment.

Format: Street, City, State, ZIP, Country`

const hardwarePromptMessage = `🔧 Step 2: Choose installation type:

1️⃣ Self-installation (Free)
2️⃣ Professional installation ($99)

Reply with 1 or 2, plus preferred date if choosing option 2.`

const productsPromptMessage = `📋 Step 3: Upload your product list

Send a photo, PDF, or text description of your products. This helps us configure your system properly.`

const trainingPromptMessage = `🎓 Step 4: Schedule training session

Choose:
1️⃣ Video call (recommended)
2️⃣ Phone call
3️⃣ In-person (if available)

Reply with: Type [1,2,3], Date: DD/MM/YYYY, Time: [Morning/Afternoon/Evening]`

const confirmationPromptMessage = `🎉 Final Step: Review and confirm

All steps completed! Your setup summary will be sent shortly.

Reply "confirm" to finalize or "changes" to modify anything.`

const changesMessage = `🔄 Let's review your information. Starting from delivery address...

📦 Step 1: Please provide your delivery address for hardware shipment.

Format: Street, City, State, ZIP, Country`

func supportMessage(recordID string) string {
	return fmt.Sprintf(`🎧 Support Request Logged

A human agent will contact you within 2 hours.
Reference ID: %s`, recordID)
}

func statusMessage(rec *model.MerchantRecord) string {
	return fmt.Sprintf(`📊 Your Onboarding Status:

🆔 ID: %s
📱 Step: %s
✅ Status: %s
📅 Started: %s`, rec.RecordID, rec.OnboardingStep, rec.Status, rec.CreatedAt.Format(dateDisplayLayout))
}

func slaMetMessage(goLive time.Time, days int) string {
	return fmt.Sprintf(`✅ Great! We can meet your Go-Live date of %s.

You have %d days until Go-Live.

Reply "continue" to proceed with onboarding steps.`, goLive.Format(dateDisplayLayout), days)
}

func slaMissedMessage(goLive time.Time, days int) string {
	return fmt.Sprintf(`⚠️ Your Go-Live date of %s is challenging.

With only %d days available, we need to escalate to our specialist team.

An onboarding manager will contact you within 2 hours.`, goLive.Format(dateDisplayLayout), days)
}

func completionMessage(rec *model.MerchantRecord) string {
	goLive := ""
	if rec.GoLiveDate != nil {
		goLive = rec.GoLiveDate.Format(dateDisplayLayout)
	}
	return fmt.Sprintf(`🎉 Congratulations! Your onboarding is complete!

📋 Summary:
📅 Go-Live: %s
📦 Delivery: %s
🔧 Installation: %s
📋 Products: Configured
🎓 Training: Scheduled

✅ You'll receive confirmation emails shortly.
📞 Support: Type 'support' anytime for help!`, goLive, rec.DeliveryAddress, rec.HardwareChoice)
}
