/**
 * @description
 * Read-only catalog lookups. Soft-deleted courses and combos are not returned.
 *
 * @dependencies
 * - github.com/jackc/pgx/v5: Row scanning.
 */

package store

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/learnary/payment-service/internal/domain"
)

// FindCourseByID returns the price and instructor of a published course.
func (r *PostgresRepository) FindCourseByID(ctx context.Context, courseID uuid.UUID) (*domain.Course, error) {
	var course domain.Course
	query := `SELECT id, title, price, instructor_id FROM courses WHERE id = $1 AND deleted_at IS NULL`
	err := r.db.QueryRow(ctx, query, courseID).Scan(&course.ID, &course.Title, &course.Price, &course.InstructorID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrCourseNotFound
		}
		return nil, err
	}
	return &course, nil
}

// FindGroupByID returns a combo together with its member courses.
func (r *PostgresRepository) FindGroupByID(ctx context.Context, groupID uuid.UUID) (*domain.Group, error) {
	var group domain.Group
	query := `SELECT id, name, discount_percent FROM course_groups WHERE id = $1 AND deleted_at IS NULL`
	err := r.db.QueryRow(ctx, query, groupID).Scan(&group.ID, &group.Name, &group.DiscountPercent)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrGroupNotFound
		}
		return nil, err
	}

	rows, err := r.db.Query(ctx, `
		SELECT c.id, c.title, c.price, c.instructor_id
		FROM course_group_members m
		JOIN courses c ON c.id = m.course_id
		WHERE m.group_id = $1 AND c.deleted_at IS NULL
		ORDER BY m.position, c.id
	`, groupID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var course domain.Course
		if err := rows.Scan(&course.ID, &course.Title, &course.Price, &course.InstructorID); err != nil {
			return nil, err
		}
		group.Courses = append(group.Courses, course)
	}
	return &group, rows.Err()
}
