/**
 * @description
 * Pure pricing rules: the charge for a course or combo and the per-instructor
 * credit split of a settled payment.
 *
 * @dependencies
 * - github.com/shopspring/decimal: All arithmetic is done in decimals and rounded
 *   to the currency scale.
 */

package app

import (
	"github.com/learnary/payment-service/internal/domain"
	"github.com/shopspring/decimal"
)

var hundred = decimal.NewFromInt(100)

// ComputeCharge returns what the buyer pays: a single course at its list price, or
// the sum of member prices minus the combo discount, rounded to scale.
func ComputeCharge(prices []decimal.Decimal, discountPercent decimal.Decimal, scale int32) decimal.Decimal {
	total := decimal.Zero
	for _, price := range prices {
		total = total.Add(price)
	}
	if discountPercent.IsPositive() {
		if discountPercent.GreaterThan(hundred) {
			discountPercent = hundred
		}
		total = total.Mul(hundred.Sub(discountPercent)).Div(hundred)
	}
	return total.Round(scale)
}

// SplitCredits divides the paid amount evenly across the purchased courses and
// applies the platform fee to each share. The last course absorbs the rounding
// remainder so the shares always sum to paid.
func SplitCredits(paid decimal.Decimal, courses []domain.Course, feePercent decimal.Decimal, scale int32) []domain.InstructorCredit {
	if len(courses) == 0 {
		return nil
	}

	n := decimal.NewFromInt(int64(len(courses)))
	share := paid.Div(n).RoundDown(scale)
	instructorPart := hundred.Sub(feePercent)

	credits := make([]domain.InstructorCredit, 0, len(courses))
	allocated := decimal.Zero
	for i, course := range courses {
		courseShare := share
		if i == len(courses)-1 {
			courseShare = paid.Sub(allocated)
		}
		allocated = allocated.Add(courseShare)

		credits = append(credits, domain.InstructorCredit{
			CourseID:     course.ID,
			InstructorID: course.InstructorID,
			Share:        courseShare,
			Credit:       courseShare.Mul(instructorPart).Div(hundred).RoundDown(scale),
		})
	}
	return credits
}
